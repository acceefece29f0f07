// Package handlers provides job handlers for the worker.
// Each handler implements the business logic for a specific job type
// and can be registered with the worker to process jobs from the queue.
package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nadmax/fieldpay/internal/queue"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const SendEmailJob = "send_email"

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	ToName      string
	ToAddress   string
	Subject     string
	PlainText   string
	HTML        string
	Attachments []Attachment
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridMailer(apiKey, fromName, fromAddress string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	response, err := m.client.SendWithContext(ctx, buildMail(m.from, msg))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	slog.Info("email sent", "to", msg.ToAddress, "status", response.StatusCode)
	return nil
}

func buildMail(from *mail.Email, msg Message) *mail.SGMailV3 {
	html := msg.HTML
	if html == "" {
		html = msg.PlainText
	}

	to := mail.NewEmail(msg.ToName, msg.ToAddress)
	email := mail.NewSingleEmail(from, msg.Subject, to, msg.PlainText, html)

	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		email.AddAttachment(att)
	}

	return email
}

// SendEmailHandler delivers a plain notification described by the job
// payload fields to, subject and body.
func SendEmailHandler(mailer Mailer) func(ctx context.Context, job *queue.Job) error {
	return func(ctx context.Context, job *queue.Job) error {
		to, ok := job.StringPayload("to")
		if !ok {
			return errors.New("missing 'to' field")
		}

		subject, ok := job.StringPayload("subject")
		if !ok {
			return errors.New("missing 'subject' field")
		}

		body, ok := job.StringPayload("body")
		if !ok {
			return errors.New("missing 'body' field")
		}

		name, _ := job.StringPayload("to_name")

		return mailer.Send(ctx, Message{
			ToName:    name,
			ToAddress: to,
			Subject:   subject,
			PlainText: body,
		})
	}
}
