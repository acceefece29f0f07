package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/fieldpay/internal/currency"
	"github.com/nadmax/fieldpay/internal/metrics"
	"github.com/nadmax/fieldpay/internal/queue"
	"github.com/nadmax/fieldpay/internal/repository"
	"github.com/nadmax/fieldpay/internal/stats"
	"github.com/nadmax/fieldpay/internal/task"
)

const EarningsDigestJob = "earnings_digest"

var csvHeader = []string{
	"task_id", "title", "price", "started_at", "completed_at", "pause_minutes", "net_hours",
}

type TaskLister interface {
	ListTasksByAssignee(ctx context.Context, workerID string) ([]*task.Task, error)
}

// DigestSender emails a worker their earnings summary with the completed
// tasks attached as CSV.
type DigestSender struct {
	workers        repository.WorkerRepository
	tasks          TaskLister
	mailer         Mailer
	currencySymbol string
	now            func() time.Time
}

func NewDigestSender(workers repository.WorkerRepository, tasks TaskLister, mailer Mailer, currencySymbol string) *DigestSender {
	if currencySymbol == "" {
		currencySymbol = currency.DefaultSymbol
	}

	return &DigestSender{
		workers:        workers,
		tasks:          tasks,
		mailer:         mailer,
		currencySymbol: currencySymbol,
		now:            time.Now,
	}
}

func (d *DigestSender) Handle(ctx context.Context, job *queue.Job) error {
	workerID, ok := job.StringPayload("worker_id")
	if !ok {
		return errors.New("missing 'worker_id' field")
	}

	worker, err := d.workers.GetWorker(ctx, workerID)
	if err != nil {
		return fmt.Errorf("failed to load worker: %w", err)
	}
	if worker.Email == "" {
		slog.Warn("worker has no email address, skipping digest", "worker_id", workerID, "job_id", job.ID)
		return nil
	}

	tasks, err := d.tasks.ListTasksByAssignee(ctx, workerID)
	if err != nil {
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}

	summary := stats.ComputeSummary(tasks)

	attachment, err := completedTasksCSV(tasks)
	if err != nil {
		return fmt.Errorf("failed to build attachment: %w", err)
	}

	day := d.now().UTC().Format("2006-01-02")
	err = d.mailer.Send(ctx, Message{
		ToName:    worker.FullName,
		ToAddress: worker.Email,
		Subject:   "Your earnings summary for " + day,
		PlainText: d.digestBody(worker.FullName, summary),
		Attachments: []Attachment{{
			Filename:    "completed-tasks-" + day + ".csv",
			ContentType: "text/csv",
			Content:     attachment,
		}},
	})
	if err != nil {
		return err
	}

	metrics.RecordDigestSent()
	slog.Info("earnings digest sent",
		"worker_id", workerID,
		"job_id", job.ID,
		"completed_tasks", summary.CompletedTasks,
	)

	return nil
}

func (d *DigestSender) digestBody(name string, s stats.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Total earnings: %s\n", currency.FormatWith(d.currencySymbol, s.TotalEarnings))
	fmt.Fprintf(&b, "Completed tasks: %d\n", s.CompletedTasks)
	fmt.Fprintf(&b, "Average completion time: %sh\n", strconv.FormatFloat(s.AverageCompletionTime, 'f', -1, 64))

	if s.ActiveTask != nil {
		fmt.Fprintf(&b, "Current task: %s\n", s.ActiveTask.Title)
	} else {
		b.WriteString("Current task: none\n")
	}

	return b.String()
}

// completedTasksCSV lists completed tasks in input order. Times that are
// missing are left blank and the net duration with them.
func completedTasksCSV(tasks []*task.Task) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if t == nil || t.Status != task.StatusCompleted {
			continue
		}

		netHours := ""
		if net, ok := t.NetDuration(); ok {
			netHours = strconv.FormatFloat(net.Hours(), 'f', 2, 64)
		}

		record := []string{
			t.ID,
			t.Title,
			strconv.FormatFloat(t.PriceOrZero(), 'f', 2, 64),
			formatTime(t.StartedAt),
			formatTime(t.CompletedAt),
			strconv.FormatFloat(t.PauseDuration().Minutes(), 'f', 1, 64),
			netHours,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}
