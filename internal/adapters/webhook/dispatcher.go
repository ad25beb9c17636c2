package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
	"golang.org/x/sync/errgroup"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"

	signaturePrefix = "sha256="
)

type Config struct {
	Workers        int
	QueueSize      int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Dispatcher receives lifecycle events from the application and delivers them to the
// app's subscribed webhooks. Emit never blocks; a full queue drops the event.
type Dispatcher struct {
	webhooks       ports.WebhookRepository
	ids            ports.IDGenerator
	client         *http.Client
	queue          chan domain.LifecycleEvent
	workers        int
	maxAttempts    int
	initialBackoff time.Duration
	dropped        atomic.Int64
	logger         *slog.Logger
	nowFn          func() time.Time
}

func NewDispatcher(webhooks ports.WebhookRepository, ids ports.IDGenerator, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		webhooks:       webhooks,
		ids:            ids,
		client:         &http.Client{Timeout: cfg.Timeout},
		queue:          make(chan domain.LifecycleEvent, cfg.QueueSize),
		workers:        cfg.Workers,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		logger:         logger.With("module", "webhook.dispatcher", "layer", "adapter"),
		nowFn:          func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Emit(event domain.LifecycleEvent) {
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn("webhook queue full; event dropped",
			"operation", "emit",
			"outcome", "dropped",
			"app_id", event.AppID,
			"event", event.Type,
		)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run drains the queue with a fixed pool of workers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case event := <-d.queue:
					d.Dispatch(gctx, event)
				}
			}
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Dispatch delivers one event to every active subscriber of the app.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.LifecycleEvent) {
	hooks, err := d.webhooks.ListActiveForEvent(ctx, event.AppID, event.Type)
	if err != nil {
		d.logger.ErrorContext(ctx, "webhook lookup failed",
			"operation", "dispatch",
			"outcome", "failure",
			"app_id", event.AppID,
			"event", event.Type,
			"error", err,
		)
		return
	}
	if len(hooks) == 0 {
		return
	}
	body, err := encodePayload(event)
	if err != nil {
		d.logger.ErrorContext(ctx, "webhook payload encoding failed",
			"operation", "dispatch",
			"outcome", "failure",
			"event", event.Type,
			"error", err,
		)
		return
	}
	for _, hook := range hooks {
		d.deliver(ctx, hook, event.Type, body)
	}
}

func encodePayload(event domain.LifecycleEvent) ([]byte, error) {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(map[string]any{
		"event":     event.Type,
		"data":      data,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
}

func (d *Dispatcher) deliver(ctx context.Context, hook domain.Webhook, eventType domain.EventType, body []byte) {
	deliveryID := d.newDeliveryID()
	started := time.Now()
	attempts := 0
	statusCode := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialBackoff
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.maxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		attempts++
		code, err := d.post(ctx, hook, eventType, deliveryID, body)
		statusCode = code
		if err != nil {
			return err
		}
		switch {
		case code >= 200 && code < 300:
			return nil
		case code >= 500 || code == http.StatusTooManyRequests:
			return fmt.Errorf("endpoint responded %d", code)
		default:
			return backoff.Permanent(fmt.Errorf("endpoint responded %d", code))
		}
	}, retry)

	delivery := domain.WebhookDelivery{
		DeliveryID: deliveryID,
		WebhookID:  hook.WebhookID,
		Event:      eventType,
		StatusCode: statusCode,
		Success:    err == nil,
		Attempts:   attempts,
		DurationMS: time.Since(started).Milliseconds(),
		CreatedAt:  d.nowFn(),
	}
	if err != nil {
		delivery.Error = err.Error()
	}
	// Recording uses a fresh context so a shutdown mid-delivery still leaves a trace.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if recErr := d.webhooks.RecordDelivery(recordCtx, delivery); recErr != nil {
		d.logger.WarnContext(ctx, "webhook delivery record failed",
			"operation", "record_delivery",
			"outcome", "failure",
			"webhook_id", hook.WebhookID,
			"error", recErr,
		)
	}

	outcome := "success"
	level := slog.LevelInfo
	if err != nil {
		outcome = "failure"
		level = slog.LevelWarn
	}
	d.logger.Log(ctx, level, "webhook delivered",
		"operation", "deliver",
		"outcome", outcome,
		"webhook_id", hook.WebhookID,
		"delivery_id", deliveryID,
		"event", eventType,
		"status_code", statusCode,
		"attempts", attempts,
	)
}

func (d *Dispatcher) post(ctx context.Context, hook domain.Webhook, eventType domain.EventType, deliveryID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "referral-platform-webhooks/1")
	req.Header.Set(HeaderSignature, Sign(hook.Secret, body))
	req.Header.Set(HeaderEvent, string(eventType))
	req.Header.Set(HeaderDelivery, deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (d *Dispatcher) newDeliveryID() string {
	if d.ids != nil {
		return d.ids.NewID()
	}
	return uuid.NewString()
}

// Sign returns the X-Webhook-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header in constant time.
func Verify(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
