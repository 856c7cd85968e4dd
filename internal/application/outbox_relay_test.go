package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/infrastructure/memory"
)

// flakyPublisher fails the first failures calls, then records.
type flakyPublisher struct {
	recordingPublisher
	failures int
	calls    int
}

func (p *flakyPublisher) Publish(ctx context.Context, key string, ev entity.UserEvent) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	return p.recordingPublisher.Publish(ctx, key, ev)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRelay(store *memory.Store, pub *flakyPublisher, c *clock, maxAttempts int) *OutboxRelay {
	r := NewOutboxRelay(store, pub, nil, RelayConfig{BatchSize: 10, MaxAttempts: maxAttempts})
	r.now = c.Now
	return r
}

func stageEvent(t *testing.T, store *memory.Store, email string, at time.Time) entity.UserEvent {
	t.Helper()
	ev := entity.NewUserEvent(email, entity.OperationCreate, at)
	require.NoError(t, store.Save(context.Background(), &entity.User{Name: "N", Email: email, Age: 20, CreatedAt: at}, ev))
	return ev
}

func TestRelayDeliversAndMarks(t *testing.T) {
	store := memory.NewStore()
	pub := &flakyPublisher{}
	c := &clock{t: testNow}
	relay := newTestRelay(store, pub, c, 3)

	ev := stageEvent(t, store, "ann@x.com", testNow)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := pub.Events()
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].Event.ID)
	assert.Equal(t, "ann@x.com", got[0].Key)

	rows := store.Outbox()
	require.Len(t, rows, 1)
	assert.Equal(t, entity.OutboxDelivered, rows[0].Status)
	assert.Equal(t, testNow, rows[0].DeliveredAt)

	// delivered rows are never leased again
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayRetriesWithBackoff(t *testing.T) {
	store := memory.NewStore()
	pub := &flakyPublisher{failures: 1}
	c := &clock{t: testNow}
	relay := newTestRelay(store, pub, c, 5)

	stageEvent(t, store, "ann@x.com", testNow)

	_, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	rows := store.Outbox()
	require.Len(t, rows, 1)
	assert.Equal(t, entity.OutboxPending, rows[0].Status)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Equal(t, "broker unavailable", rows[0].LastError)
	assert.Equal(t, testNow.Add(time.Second), rows[0].NextAttemptAt)

	// not due yet
	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	c.Advance(time.Second)
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.Events(), 1)
	assert.Equal(t, entity.OutboxDelivered, store.Outbox()[0].Status)
}

func TestRelayParksAfterMaxAttempts(t *testing.T) {
	store := memory.NewStore()
	pub := &flakyPublisher{failures: 100}
	c := &clock{t: testNow}
	relay := newTestRelay(store, pub, c, 2)

	stageEvent(t, store, "ann@x.com", testNow)

	for i := 0; i < 2; i++ {
		_, err := relay.RelayOnce(context.Background())
		require.NoError(t, err)
		c.Advance(maxRelayBackoff)
	}

	rows := store.Outbox()
	require.Len(t, rows, 1)
	assert.Equal(t, entity.OutboxDead, rows[0].Status)
	assert.Equal(t, 2, rows[0].Attempts)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, pub.calls)
}

func TestRelayPreservesOrderPerKey(t *testing.T) {
	store := memory.NewStore()
	pub := &flakyPublisher{}
	c := &clock{t: testNow.Add(time.Minute)}
	relay := newTestRelay(store, pub, c, 3)
	ctx := context.Background()

	u := &entity.User{Name: "Ann", Email: "ann@x.com", Age: 30, CreatedAt: testNow}
	create := entity.NewUserEvent(u.Email, entity.OperationCreate, testNow)
	require.NoError(t, store.Save(ctx, u, create))
	del := entity.NewUserEvent(u.Email, entity.OperationDelete, testNow.Add(time.Second))
	require.NoError(t, store.DeleteByID(ctx, u.ID, del))

	_, err := relay.RelayOnce(ctx)
	require.NoError(t, err)

	got := pub.Events()
	require.Len(t, got, 2)
	assert.Equal(t, entity.OperationCreate, got[0].Event.Operation)
	assert.Equal(t, entity.OperationDelete, got[1].Event.Operation)
}

func TestRelayKeepsOrderAfterFailure(t *testing.T) {
	store := memory.NewStore()
	pub := &flakyPublisher{failures: 1}
	c := &clock{t: testNow.Add(time.Minute)}
	relay := newTestRelay(store, pub, c, 3)
	ctx := context.Background()

	u := &entity.User{Name: "Ann", Email: "ann@x.com", Age: 30, CreatedAt: testNow}
	create := entity.NewUserEvent(u.Email, entity.OperationCreate, testNow)
	require.NoError(t, store.Save(ctx, u, create))
	del := entity.NewUserEvent(u.Email, entity.OperationDelete, testNow.Add(time.Second))
	require.NoError(t, store.DeleteByID(ctx, u.ID, del))

	// create fails; delete is handed back without being tried
	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, pub.Events())
	assert.Equal(t, 1, pub.calls)

	rows := store.Outbox()
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Equal(t, entity.OutboxPending, rows[1].Status)
	assert.Zero(t, rows[1].Attempts)

	// delete stays behind create while create waits out its backoff
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.Events())

	c.Advance(2 * time.Second)
	_, err = relay.RelayOnce(ctx)
	require.NoError(t, err)

	got := pub.Events()
	require.Len(t, got, 2)
	assert.Equal(t, create.ID, got[0].Event.ID)
	assert.Equal(t, del.ID, got[1].Event.ID)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	pub := &flakyPublisher{}
	relay := NewOutboxRelay(store, pub, nil, RelayConfig{Interval: 10 * time.Millisecond})
	stageEvent(t, store, "ann@x.com", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.Events()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{9, 256 * time.Second},
		{10, maxRelayBackoff},
		{50, maxRelayBackoff},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}
