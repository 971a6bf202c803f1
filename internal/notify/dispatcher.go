// Package notify delivers queued notifications to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"maintline/internal/config"
	"maintline/internal/domain"
	"maintline/internal/repo"
)

const (
	defaultInterval    = 2 * time.Second
	defaultTimeout     = 5 * time.Second
	defaultBatch       = 20
	defaultMaxAttempts = 5
	retriesPerPoll     = 2
	initialBackoff     = 200 * time.Millisecond
)

type Dispatcher struct {
	Repo        repo.Repo
	URL         string
	Client      *http.Client
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
	Logger      *slog.Logger
	Now         func() time.Time

	// Backoff builds the per-delivery retry policy; nil means exponential.
	Backoff func() retry.Backoff
}

func NewDispatcher(r repo.Repo, cfg config.NotificationsConfig, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		Repo:        r,
		URL:         strings.TrimSpace(cfg.WebhookURL),
		Client:      &http.Client{Timeout: defaultTimeout},
		Interval:    time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		MaxAttempts: cfg.MaxAttempts,
		BatchSize:   cfg.BatchSize,
		Logger:      logger,
	}
	if d.Interval <= 0 {
		d.Interval = defaultInterval
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = defaultMaxAttempts
	}
	if d.BatchSize <= 0 {
		d.BatchSize = defaultBatch
	}
	return d
}

func (d *Dispatcher) Enabled() bool {
	return d != nil && d.URL != ""
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) backoff() retry.Backoff {
	if d.Backoff != nil {
		return d.Backoff()
	}
	return retry.WithMaxRetries(retriesPerPoll, retry.NewExponential(initialBackoff))
}

// Run polls the outbox until ctx is cancelled. It returns at once when no
// webhook is configured.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.Enabled() {
		d.logger().Info("notification webhook not configured; dispatcher idle")
		return nil
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger().Warn("notification dispatch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch and reports how many rows were delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.Repo.ListUndelivered(ctx, d.MaxAttempts, d.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list undelivered: %w", err)
	}
	delivered := 0
	for _, n := range pending {
		attempts, err := d.deliver(ctx, n)
		if err != nil {
			d.logger().Warn("notification delivery failed", "notification_id", n.ID, "attempts", n.Attempts+attempts, "error", err)
			if rerr := d.Repo.RecordNotificationFailure(ctx, n.ID, attempts, err.Error()); rerr != nil {
				return delivered, rerr
			}
			continue
		}
		if err := d.Repo.MarkNotificationDelivered(ctx, n.ID, attempts, d.now()); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

type notificationBody struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"companyId"`
	UserID     int64     `json:"userId"`
	Type       string    `json:"type"`
	ResourceID int64     `json:"resourceId"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// deliver posts n with retries on transport errors and 5xx answers.
func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) (int, error) {
	data, err := json.Marshal(notificationBody{
		ID:         n.ID,
		CompanyID:  n.CompanyID,
		UserID:     n.UserID,
		Type:       n.Type,
		ResourceID: n.ResourceID,
		Message:    n.Message,
		CreatedAt:  n.CreatedAt,
	})
	if err != nil {
		return 0, err
	}
	attempts := 0
	err = retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		attempts++
		return d.post(ctx, n, data)
	})
	return attempts, err
}

func (d *Dispatcher) post(ctx context.Context, n domain.Notification, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Maintline-Delivery", strconv.FormatInt(n.ID, 10))
	req.Header.Set("X-Maintline-Type", n.Type)
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return retry.RetryableError(err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	statusErr := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		return retry.RetryableError(statusErr)
	}
	return statusErr
}
