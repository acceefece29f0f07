// Package location keeps the live position of on-duty workers in Redis and
// optionally appends every report to a persistent history.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/fieldpay/internal/metrics"
	"github.com/nadmax/fieldpay/internal/repository"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/redis/go-redis/v9"
)

const (
	geoKey     = "locations"
	onDutyKey  = "on_duty"
	hashPrefix = "location:"

	// Set of open session ids per worker.
	sessionsPrefix = "tracking:"

	// Redis GEO cannot index latitudes beyond this bound.
	maxLatitude = 85.05112878
)

var ErrInvalidPosition = errors.New("invalid position")

// stopScript drops one session and clears the worker's live keys only when
// it was the last one open.
var stopScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
if redis.call('SCARD', KEYS[1]) > 0 then
	return 0
end
redis.call('SREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('DEL', KEYS[4])
return 1
`)

type Position struct {
	WorkerID   string    `json:"worker_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	Stale      bool      `json:"stale"`
	DistanceKm float64   `json:"distance_km,omitempty"`
}

type Tracker struct {
	client     *redis.Client
	history    repository.LocationHistory
	staleAfter time.Duration
	now        func() time.Time
}

// NewTracker builds a tracker. history may be nil when reports should only
// feed the live view.
func NewTracker(client *redis.Client, history repository.LocationHistory, staleAfter time.Duration) *Tracker {
	return &Tracker{
		client:     client,
		history:    history,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Session is one worker's reporting period. Stop must be called when the
// period ends; Track does it for you.
type Session struct {
	tracker  *Tracker
	id       string
	workerID string
	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{}
}

func (t *Tracker) Start(ctx context.Context, workerID string) (*Session, error) {
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}

	id := uuid.New().String()
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, sessionsPrefix+workerID, id)
		pipe.SAdd(ctx, onDutyKey, workerID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start tracking %s: %w", workerID, err)
	}

	metrics.TrackingStarted()
	slog.Info("location tracking started", "worker_id", workerID, "session_id", id)

	return &Session{
		tracker:  t,
		id:       id,
		workerID: workerID,
		stopped:  make(chan struct{}),
	}, nil
}

// Track runs fn inside a tracking session and stops the session on every
// exit path, including a panic in fn or a cancelled ctx.
func (t *Tracker) Track(ctx context.Context, workerID string, fn func(*Session) error) (err error) {
	s, err := t.Start(ctx, workerID)
	if err != nil {
		return err
	}

	defer func() {
		if stopErr := s.Stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	return fn(s)
}

func (s *Session) WorkerID() string {
	return s.workerID
}

// Done is closed once the session has been stopped.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

func (s *Session) Report(ctx context.Context, lat, lon, accuracy float64) error {
	select {
	case <-s.stopped:
		return fmt.Errorf("tracking for %s already stopped", s.workerID)
	default:
	}

	err := s.tracker.record(ctx, models.LocationPing{
		WorkerID:   s.workerID,
		Latitude:   lat,
		Longitude:  lon,
		Accuracy:   accuracy,
		RecordedAt: s.tracker.now(),
	})
	metrics.RecordLocationReport(err)

	return err
}

// Stop ends this session. The worker leaves the live view once their last
// open session stops. Only the first call has any effect; later calls return
// the first result.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopped)

		keys := []string{sessionsPrefix + s.workerID, onDutyKey, geoKey, hashPrefix + s.workerID}
		last, err := stopScript.Run(ctx, s.tracker.client, keys, s.id, s.workerID).Int()
		if err != nil {
			s.stopErr = fmt.Errorf("failed to stop tracking %s: %w", s.workerID, err)
		}

		metrics.TrackingStopped()
		slog.Info("location tracking stopped", "worker_id", s.workerID, "session_id", s.id, "off_duty", last == 1)
	})

	return s.stopErr
}

func (t *Tracker) record(ctx context.Context, ping models.LocationPing) error {
	if err := validate(ping.Latitude, ping.Longitude, ping.Accuracy); err != nil {
		return err
	}

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      ping.WorkerID,
			Longitude: ping.Longitude,
			Latitude:  ping.Latitude,
		})
		pipe.HSet(ctx, hashPrefix+ping.WorkerID, map[string]any{
			"lat":         strconv.FormatFloat(ping.Latitude, 'f', -1, 64),
			"lon":         strconv.FormatFloat(ping.Longitude, 'f', -1, 64),
			"accuracy":    strconv.FormatFloat(ping.Accuracy, 'f', -1, 64),
			"recorded_at": ping.RecordedAt.UTC().Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store position: %w", err)
	}

	if t.history != nil {
		if err := t.history.SaveLocation(ctx, ping); err != nil {
			return fmt.Errorf("failed to save location history: %w", err)
		}
	}

	return nil
}

// Positions returns the last reported position of every on-duty worker.
// Workers that have not reported yet are omitted.
func (t *Tracker) Positions(ctx context.Context) ([]Position, error) {
	ids, err := t.client.SMembers(ctx, onDutyKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list on-duty workers: %w", err)
	}

	positions := make([]Position, 0, len(ids))
	for _, id := range ids {
		p, ok, err := t.position(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, p)
		}
	}

	return positions, nil
}

// Nearby returns on-duty workers within radiusKm of the point, closest first.
func (t *Tracker) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]Position, error) {
	if err := validate(lat, lon, 0); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidPosition)
	}

	found, err := t.client.GeoRadius(ctx, geoKey, lon, lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search positions: %w", err)
	}

	onDuty, err := t.client.SMembers(ctx, onDutyKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list on-duty workers: %w", err)
	}
	active := make(map[string]struct{}, len(onDuty))
	for _, id := range onDuty {
		active[id] = struct{}{}
	}

	positions := make([]Position, 0, len(found))
	for _, loc := range found {
		if _, ok := active[loc.Name]; !ok {
			continue
		}

		p, ok, err := t.position(ctx, loc.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		p.DistanceKm = loc.Dist
		positions = append(positions, p)
	}

	return positions, nil
}

func (t *Tracker) position(ctx context.Context, workerID string) (Position, bool, error) {
	fields, err := t.client.HGetAll(ctx, hashPrefix+workerID).Result()
	if err != nil {
		return Position{}, false, fmt.Errorf("failed to load position for %s: %w", workerID, err)
	}
	if len(fields) == 0 {
		return Position{}, false, nil
	}

	p, err := parsePosition(workerID, fields)
	if err != nil {
		slog.Warn("skipping unreadable position", "worker_id", workerID, "error", err)
		return Position{}, false, nil
	}
	p.Stale = t.staleAfter > 0 && t.now().Sub(p.RecordedAt) > t.staleAfter

	return p, true, nil
}

func parsePosition(workerID string, fields map[string]string) (Position, error) {
	p := Position{WorkerID: workerID}

	var err error
	if p.Latitude, err = strconv.ParseFloat(fields["lat"], 64); err != nil {
		return p, fmt.Errorf("lat: %w", err)
	}
	if p.Longitude, err = strconv.ParseFloat(fields["lon"], 64); err != nil {
		return p, fmt.Errorf("lon: %w", err)
	}
	if p.Accuracy, err = strconv.ParseFloat(fields["accuracy"], 64); err != nil {
		return p, fmt.Errorf("accuracy: %w", err)
	}
	if p.RecordedAt, err = time.Parse(time.RFC3339Nano, fields["recorded_at"]); err != nil {
		return p, fmt.Errorf("recorded_at: %w", err)
	}

	return p, nil
}

func validate(lat, lon, accuracy float64) error {
	switch {
	case math.IsNaN(lat) || math.IsNaN(lon) || math.IsNaN(accuracy):
		return fmt.Errorf("%w: NaN coordinate", ErrInvalidPosition)
	case lat < -maxLatitude || lat > maxLatitude:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPosition, lat)
	case lon < -180 || lon > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPosition, lon)
	case accuracy < 0:
		return fmt.Errorf("%w: negative accuracy", ErrInvalidPosition)
	}

	return nil
}
