package service

import (
	"context"
	"sync"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultNotifyRetryIntervals are the waits between delivery attempts on one channel.
var DefaultNotifyRetryIntervals = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
}

const deliveryTimeout = 10 * time.Second

// NotificationDispatcher implements ports.NotificationSink. Each notification is
// delivered to every channel in the background; failures are logged and dropped.
type NotificationDispatcher struct {
	channels []ports.NotificationChannel
	retries  []time.Duration
	nowFn    func() time.Time
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewNotificationDispatcher creates a dispatcher over the given channels. A nil
// retries slice uses DefaultNotifyRetryIntervals.
func NewNotificationDispatcher(channels []ports.NotificationChannel, retries []time.Duration, log zerolog.Logger) *NotificationDispatcher {
	if retries == nil {
		retries = DefaultNotifyRetryIntervals
	}
	return &NotificationDispatcher{
		channels: channels,
		retries:  retries,
		nowFn:    func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Notify queues delivery and returns immediately.
func (d *NotificationDispatcher) Notify(ctx context.Context, userID uuid.UUID, eventType domain.EventType, payload domain.NotificationPayload) {
	n := domain.NewNotification(userID, eventType, payload, d.nowFn())

	// Delivery outlives the request that triggered it.
	bg := context.WithoutCancel(ctx)
	for _, ch := range d.channels {
		d.wg.Add(1)
		go func(ch ports.NotificationChannel) {
			defer d.wg.Done()
			d.deliverWithRetries(bg, ch, n)
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *NotificationDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) deliverWithRetries(ctx context.Context, ch ports.NotificationChannel, n *domain.Notification) {
	log := d.log.With().
		Str("channel", ch.Name()).
		Str("notification_id", n.ID.String()).
		Str("user_id", n.UserID.String()).
		Str("type", string(n.Type)).
		Logger()

	for attempt := 0; attempt <= len(d.retries); attempt++ {
		if attempt > 0 {
			time.Sleep(d.retries[attempt-1])
		}

		attemptCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		err := ch.Deliver(attemptCtx, n)
		cancel()
		if err == nil {
			metrics.RecordNotification(ch.Name(), "delivered")
			log.Debug().Int("attempt", attempt+1).Msg("notification delivered")
			return
		}

		metrics.RecordNotification(ch.Name(), "retry")
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("notification delivery failed")
	}

	metrics.RecordNotification(ch.Name(), "failed")
	log.Error().Msg("notification: all retry attempts exhausted")
}
