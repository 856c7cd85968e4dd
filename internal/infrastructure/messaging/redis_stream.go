package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/domain/repository"
)

// StreamPublisher appends user events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	Stream string
	// MaxLen caps the stream approximately; 0 keeps everything.
	MaxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, Stream: stream, MaxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, routingKey string, ev entity.UserEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal user event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]any{
			"key":   routingKey,
			"event": body,
		},
	}
	if p.MaxLen > 0 {
		args.MaxLen = p.MaxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd user event %s: %w", ev.ID, err)
	}
	return nil
}

type StreamSubscriberConfig struct {
	Stream        string
	Group         string
	Consumer      string
	BatchSize     int64
	BlockDuration time.Duration
	// ClaimMinIdle is how long a delivered but unacked message waits before it
	// is claimed again, by this consumer or any other in the group.
	ClaimMinIdle time.Duration
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
}

// streamGroup is the consumer-group surface the subscriber uses.
type streamGroup interface {
	create(ctx context.Context) error
	claimStale(ctx context.Context) ([]redis.XMessage, error)
	readNew(ctx context.Context) ([]redis.XMessage, error)
	ack(ctx context.Context, id string) error
}

type redisGroup struct {
	client *redis.Client
	cfg    StreamSubscriberConfig
	cursor string
}

func (g *redisGroup) create(ctx context.Context) error {
	err := g.client.XGroupCreateMkStream(ctx, g.cfg.Stream, g.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// claimStale walks the pending list with XAUTOCLAIM, resuming where the last
// call stopped.
func (g *redisGroup) claimStale(ctx context.Context) ([]redis.XMessage, error) {
	if g.cursor == "" {
		g.cursor = "0-0"
	}
	msgs, next, err := g.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   g.cfg.Stream,
		Group:    g.cfg.Group,
		Consumer: g.cfg.Consumer,
		MinIdle:  g.cfg.ClaimMinIdle,
		Start:    g.cursor,
		Count:    g.cfg.BatchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	g.cursor = next
	return msgs, nil
}

func (g *redisGroup) readNew(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := g.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.cfg.Group,
		Consumer: g.cfg.Consumer,
		Streams:  []string{g.cfg.Stream, ">"},
		Count:    g.cfg.BatchSize,
		Block:    g.cfg.BlockDuration,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	var msgs []redis.XMessage
	for _, st := range streams {
		msgs = append(msgs, st.Messages...)
	}
	return msgs, nil
}

func (g *redisGroup) ack(ctx context.Context, id string) error {
	return g.client.XAck(ctx, g.cfg.Stream, g.cfg.Group, id).Err()
}

// StreamSubscriber reads a stream through a consumer group. Failed messages stay
// pending and are claimed again once idle for ClaimMinIdle; dropped messages are
// acked and logged.
type StreamSubscriber struct {
	group  streamGroup
	cfg    StreamSubscriberConfig
	logger *logrus.Logger
}

func NewStreamSubscriber(client *redis.Client, cfg StreamSubscriberConfig, logger *logrus.Logger) *StreamSubscriber {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 5 * time.Second
	}
	if cfg.ClaimMinIdle == 0 {
		cfg.ClaimMinIdle = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	return &StreamSubscriber{group: &redisGroup{client: client, cfg: cfg}, cfg: cfg, logger: logger}
}

func (s *StreamSubscriber) Consume(ctx context.Context, handle Handler) error {
	if err := s.group.create(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.poll(ctx, handle); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).WithField("stream", s.cfg.Stream).Warn("read user events failed")
			t := time.NewTimer(s.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// poll handles stale pending messages first and only then reads new ones.
func (s *StreamSubscriber) poll(ctx context.Context, handle Handler) error {
	msgs, err := s.group.claimStale(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		if msgs, err = s.group.readNew(ctx); err != nil {
			return err
		}
	}
	for _, msg := range msgs {
		s.dispatch(ctx, msg, handle)
	}
	return nil
}

func (s *StreamSubscriber) dispatch(ctx context.Context, msg redis.XMessage, handle Handler) {
	log := s.logger.WithField("message_id", msg.ID)
	ev, err := decodeStreamMessage(msg)
	if err == nil {
		err = handle(ctx, ev)
	} else {
		err = Drop(err)
	}
	if err != nil && !IsDrop(err) {
		log.WithError(err).Warn("user event left pending")
		return
	}
	if err != nil {
		log.WithError(err).Error("user event dropped")
	}
	if err := s.group.ack(ctx, msg.ID); err != nil {
		log.WithError(err).Warn("xack failed")
	}
}

func decodeStreamMessage(msg redis.XMessage) (entity.UserEvent, error) {
	var ev entity.UserEvent
	raw, ok := msg.Values["event"].(string)
	if !ok {
		return ev, fmt.Errorf("message %s has no event field", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

var _ repository.EventPublisher = (*StreamPublisher)(nil)
