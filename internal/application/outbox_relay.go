package application

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	repo "github.com/oksasatya/user-directory/internal/domain/repository"
)

const (
	defaultRelayBatchSize   = 50
	defaultRelayInterval    = time.Second
	defaultRelayLeaseTTL    = 30 * time.Second
	defaultRelayMaxAttempts = 10
	maxRelayBackoff         = 5 * time.Minute
)

type RelayConfig struct {
	BatchSize   int
	Interval    time.Duration
	LeaseTTL    time.Duration
	MaxAttempts int
}

// OutboxRelay moves committed outbox rows onto the event channel.
// Several relays may run against the same store; leases keep them apart.
type OutboxRelay struct {
	Outbox    repo.OutboxRepository
	Publisher repo.EventPublisher
	Logger    *logrus.Logger
	cfg       RelayConfig
	now       func() time.Time
}

func NewOutboxRelay(outbox repo.OutboxRepository, pub repo.EventPublisher, logger *logrus.Logger, cfg RelayConfig) *OutboxRelay {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRelayBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRelayInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultRelayLeaseTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultRelayMaxAttempts
	}
	return &OutboxRelay{Outbox: outbox, Publisher: pub, Logger: logger, cfg: cfg, now: time.Now}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by another pass.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.Logger.WithFields(logrus.Fields{
		"batch":    r.cfg.BatchSize,
		"interval": r.cfg.Interval.String(),
	}).Info("outbox relay started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.Logger.WithError(err).Warn("outbox relay pass failed")
		}
		if n == r.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			r.Logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce leases one batch and tries to deliver each event. It returns the
// number of leased events. Once an event fails, later events for the same key
// in the batch are released untried so they cannot overtake it.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()
	batch, err := r.Outbox.Lease(ctx, r.cfg.BatchSize, now, r.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	failed := make(map[string]bool)
	for _, row := range batch {
		ev := row.Event
		log := r.Logger.WithFields(logrus.Fields{
			"event_id": ev.ID,
			"email":    ev.Email,
			"op":       ev.Operation,
			"attempt":  row.Attempts + 1,
		})

		if failed[ev.Key()] {
			if err := r.Outbox.Release(ctx, ev.ID); err != nil {
				log.WithError(err).Warn("release outbox event failed")
			}
			continue
		}

		c, cancel := context.WithTimeout(ctx, publishTimeout)
		pubErr := r.Publisher.Publish(c, ev.Key(), ev)
		cancel()

		if pubErr == nil {
			if err := r.Outbox.MarkDelivered(ctx, ev.ID, r.now().UTC()); err != nil {
				// Lease expiry will hand the row out again; consumers dedupe on id.
				log.WithError(err).Warn("mark outbox delivered failed")
				continue
			}
			outboxDelivered.Add(1)
			eventsPublished.Add(1)
			continue
		}

		eventPublishFailure.Add(1)
		failed[ev.Key()] = true
		attempts := row.Attempts + 1
		dead := attempts >= r.cfg.MaxAttempts
		next := r.now().UTC().Add(backoff(attempts))
		if err := r.Outbox.MarkFailed(ctx, ev.ID, pubErr.Error(), next, dead); err != nil {
			log.WithError(err).Warn("record outbox failure failed")
			continue
		}
		if dead {
			outboxDead.Add(1)
			log.WithError(pubErr).Error("outbox event parked after max attempts")
			continue
		}
		outboxRetried.Add(1)
		log.WithError(pubErr).WithField("next_attempt_at", next).Warn("outbox publish failed, will retry")
	}
	return len(batch), nil
}

// backoff doubles from one second per attempt, capped.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRelayBackoff {
			return maxRelayBackoff
		}
	}
	return d
}
