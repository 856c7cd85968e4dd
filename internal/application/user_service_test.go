package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/infrastructure/memory"
)

// ---- fakes ----

type published struct {
	Key   string
	Event entity.UserEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, ev entity.UserEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{Key: key, Event: ev})
	return nil
}

func (p *recordingPublisher) Events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

// failingRepo fails every call after the wrapped store when fail is set.
type failingRepo struct {
	*memory.Store
	fail error
}

func (r *failingRepo) FindAll(ctx context.Context) ([]entity.User, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	return r.Store.FindAll(ctx)
}

func (r *failingRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if r.fail != nil {
		return false, r.fail
	}
	return r.Store.ExistsByEmail(ctx, email)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]UserView
}

func newMapCache() *mapCache { return &mapCache{m: map[string]UserView{}} }

func (c *mapCache) Get(_ context.Context, key string) (*UserView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	if !ok {
		return nil, false
	}
	return &v, true
}

func (c *mapCache) Set(_ context.Context, key string, v *UserView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = *v
}

func (c *mapCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.m, k)
	}
}

// ---- helpers ----

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, mode DeliveryMode) (*Service, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	svc := NewService(store, pub, mode, nil)
	svc.now = func() time.Time { return testNow }
	return svc, store, pub
}

// emitted returns what reached the event channel: the publisher in direct
// mode, or the outbox after one relay pass in outbox mode.
func emitted(t *testing.T, svc *Service, store *memory.Store, pub *recordingPublisher) []published {
	t.Helper()
	if svc.Delivery == DeliveryOutbox {
		relay := NewOutboxRelay(store, pub, nil, RelayConfig{})
		relay.now = func() time.Time { return testNow }
		_, err := relay.RelayOnce(context.Background())
		require.NoError(t, err)
	}
	return pub.Events()
}

func forEachMode(t *testing.T, fn func(t *testing.T, mode DeliveryMode)) {
	for _, mode := range []DeliveryMode{DeliveryDirect, DeliveryOutbox} {
		t.Run(string(mode), func(t *testing.T) { fn(t, mode) })
	}
}

// ---- tests ----

func TestCreateThenGetByEmail(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		svc, _, _ := newTestService(t, mode)
		ctx := context.Background()

		created, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, testNow, created.CreatedAt)

		got, err := svc.GetByEmail(ctx, "ann@x.com")
		require.NoError(t, err)
		assert.Equal(t, created, got)

		byID, err := svc.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, byID)
	})
}

func TestCreateDuplicateEmail(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		svc, store, pub := newTestService(t, mode)
		ctx := context.Background()

		_, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
		require.NoError(t, err)

		_, err = svc.Create(ctx, CreateUserInput{Name: "Other", Email: "ann@x.com", Age: 50})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmailTaken)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "ann@x.com", conflict.Email)

		all, err := svc.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "Ann", all[0].Name)

		assert.Len(t, emitted(t, svc, store, pub), 1)
	})
}

func TestGetByIDUnknown(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)

	_, err := svc.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
	assert.Empty(t, nf.Email)
}

func TestGetByEmailUnknown(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)

	_, err := svc.GetByEmail(context.Background(), "nobody@x.com")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nobody@x.com", nf.Email)
	assert.Contains(t, nf.Error(), "nobody@x.com")
}

func TestGetAllEmpty(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)

	all, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestDeleteThenGetByID(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		svc, _, _ := newTestService(t, mode)
		ctx := context.Background()

		u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
		require.NoError(t, err)
		require.NoError(t, svc.DeleteByID(ctx, u.ID))

		_, err = svc.GetByID(ctx, u.ID)
		assert.ErrorIs(t, err, ErrUserNotFound)

		// the email is free again
		_, err = svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 31})
		assert.NoError(t, err)
	})
}

func TestDeleteUnknownIsSilent(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		svc, store, pub := newTestService(t, mode)

		require.NoError(t, svc.DeleteByID(context.Background(), "missing"))
		assert.Empty(t, emitted(t, svc, store, pub))
		assert.Empty(t, store.Outbox())
	})
}

func TestUpdateEmailOnlyKeepsOtherFields(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		svc, store, pub := newTestService(t, mode)
		ctx := context.Background()

		u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
		require.NoError(t, err)

		svc.now = func() time.Time { return testNow.Add(time.Hour) }
		updated, err := svc.Update(ctx, u.ID, UpdateUserInput{Email: "ann@y.com"})
		require.NoError(t, err)

		assert.Equal(t, u.ID, updated.ID)
		assert.Equal(t, "Ann", updated.Name)
		assert.Equal(t, 30, updated.Age)
		assert.Equal(t, "ann@y.com", updated.Email)
		assert.Equal(t, u.CreatedAt, updated.CreatedAt)

		_, err = svc.GetByEmail(ctx, "ann@x.com")
		assert.ErrorIs(t, err, ErrUserNotFound)

		// only the CREATE; update announces nothing
		events := emitted(t, svc, store, pub)
		require.Len(t, events, 1)
		assert.Equal(t, entity.OperationCreate, events[0].Event.Operation)
	})
}

func TestUpdateAllFields(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, u.ID, UpdateUserInput{Name: "Anne", Email: "anne@x.com", Age: 31})
	require.NoError(t, err)
	assert.Equal(t, UserView{ID: u.ID, Name: "Anne", Email: "anne@x.com", Age: 31, CreatedAt: u.CreatedAt}, updated)
}

func TestUpdateErrors(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)
	ctx := context.Background()

	ann, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateUserInput{Name: "Bob", Email: "bob@x.com", Age: 40})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "missing", UpdateUserInput{Name: "X"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.Update(ctx, ann.ID, UpdateUserInput{Email: "bob@x.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	// keeping one's own email is not a conflict
	_, err = svc.Update(ctx, ann.ID, UpdateUserInput{Email: "ann@x.com", Age: 33})
	assert.NoError(t, err)
}

func TestAnnLifecycleEvents(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		svc, store, pub := newTestService(t, mode)
		ctx := context.Background()

		u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
		require.NoError(t, err)
		require.NoError(t, svc.DeleteByID(ctx, u.ID))

		events := emitted(t, svc, store, pub)
		require.Len(t, events, 2)
		assert.Equal(t, "ann@x.com", events[0].Key)
		assert.Equal(t, entity.OperationCreate, events[0].Event.Operation)
		assert.Equal(t, "ann@x.com", events[1].Key)
		assert.Equal(t, entity.OperationDelete, events[1].Event.Operation)
		assert.NotEqual(t, events[0].Event.ID, events[1].Event.ID)
	})
}

func TestConcurrentCreateSameEmail(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		svc, store, pub := newTestService(t, mode)
		ctx := context.Background()

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrEmailTaken):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, conflicts)
		all, err := svc.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		assert.Len(t, emitted(t, svc, store, pub), 1)
	})
}

func TestDirectPublishFailureDoesNotFailCreate(t *testing.T) {
	svc, _, pub := newTestService(t, DeliveryDirect)
	pub.err = errors.New("broker down")
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteByID(ctx, u.ID))

	_, err = svc.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestOutboxModeDoesNotPublishInline(t *testing.T) {
	svc, store, pub := newTestService(t, DeliveryOutbox)

	_, err := svc.Create(context.Background(), CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
	require.NoError(t, err)

	assert.Empty(t, pub.Events())
	rows := store.Outbox()
	require.Len(t, rows, 1)
	assert.Equal(t, entity.OutboxPending, rows[0].Status)
	assert.Equal(t, "ann@x.com", rows[0].Event.Email)
}

func TestStorageFailure(t *testing.T) {
	cause := errors.New("connection reset")
	repo := &failingRepo{Store: memory.NewStore(), fail: cause}
	svc := NewService(repo, &recordingPublisher{}, DeliveryDirect, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)

	_, err = svc.GetAll(ctx)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "find_all", se.Op)
}

func TestCacheInvalidatedOnUpdateAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)
	c := newMapCache()
	svc.Cache = c
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
	require.NoError(t, err)
	_, err = svc.GetByID(ctx, u.ID)
	require.NoError(t, err)
	_, err = svc.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Len(t, c.m, 2)

	_, err = svc.Update(ctx, u.ID, UpdateUserInput{Name: "Anne"})
	require.NoError(t, err)
	assert.Empty(t, c.m)

	got, err := svc.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anne", got.Name)

	require.NoError(t, svc.DeleteByID(ctx, u.ID))
	_, err = svc.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSearchAndExportWithoutBackends(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)
	ctx := context.Background()

	hits, err := svc.Search(ctx, "ann", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = svc.Export(ctx)
	assert.ErrorIs(t, err, ErrExportNotConfigured)
}

type recordingExporter struct{ got []UserView }

func (e *recordingExporter) Export(_ context.Context, users []UserView) (string, error) {
	e.got = users
	return "mem://export", nil
}

func TestExportWritesAllUsers(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)
	exp := &recordingExporter{}
	svc.Exporter = exp
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com"} {
		_, err := svc.Create(ctx, CreateUserInput{Name: "N", Email: email, Age: 20})
		require.NoError(t, err)
	}

	loc, err := svc.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mem://export", loc)
	require.Len(t, exp.got, 2)
	assert.Equal(t, "a@x.com", exp.got[0].Email)
}

func TestParseDeliveryMode(t *testing.T) {
	m, err := ParseDeliveryMode("direct")
	require.NoError(t, err)
	assert.Equal(t, DeliveryDirect, m)

	_, err = ParseDeliveryMode("sometimes")
	assert.Error(t, err)
}

// blindRepo never reports an existing email, like a second caller that passed
// the pre-check before the first one committed.
type blindRepo struct{ *memory.Store }

func (blindRepo) ExistsByEmail(context.Context, string) (bool, error) { return false, nil }

func TestCreateDuplicateCaughtByStore(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode DeliveryMode) {
		store := memory.NewStore()
		pub := &recordingPublisher{}
		svc := NewService(blindRepo{store}, pub, mode, nil)
		svc.now = func() time.Time { return testNow }
		ctx := context.Background()

		_, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
		require.NoError(t, err)

		_, err = svc.Create(ctx, CreateUserInput{Name: "Other", Email: "ann@x.com", Age: 50})
		assert.ErrorIs(t, err, ErrEmailTaken)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "ann@x.com", conflict.Email)

		all, err := svc.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		if mode == DeliveryOutbox {
			assert.Len(t, store.Outbox(), 1)
		}
		assert.Len(t, emitted(t, svc, store, pub), 1)
	})
}

func TestCacheRedeleteEvictsLateWriteBack(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(svc *Service, id string) error
	}{
		{
			name: "update",
			mutate: func(svc *Service, id string) error {
				_, err := svc.Update(context.Background(), id, UpdateUserInput{Name: "Anne"})
				return err
			},
		},
		{
			name: "delete",
			mutate: func(svc *Service, id string) error {
				return svc.DeleteByID(context.Background(), id)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, DeliveryDirect)
			c := newMapCache()
			svc.Cache = c
			var (
				delays  []time.Duration
				pending []func()
			)
			svc.after = func(d time.Duration, f func()) {
				delays = append(delays, d)
				pending = append(pending, f)
			}
			ctx := context.Background()

			u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
			require.NoError(t, err)
			// a reader loaded u before the write and stores it after the invalidation
			require.NoError(t, tt.mutate(svc, u.ID))
			stale := u
			c.Set(ctx, keyByID(u.ID), &stale)

			require.Len(t, pending, 1)
			assert.Equal(t, defaultCacheRedelete, delays[0])
			pending[0]()
			_, ok := c.Get(ctx, keyByID(u.ID))
			assert.False(t, ok)
		})
	}
}

func TestCacheRedeleteDisabled(t *testing.T) {
	svc, _, _ := newTestService(t, DeliveryDirect)
	svc.Cache = newMapCache()
	svc.CacheRedelete = 0
	scheduled := 0
	svc.after = func(time.Duration, func()) { scheduled++ }
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", Age: 30})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteByID(ctx, u.ID))
	assert.Zero(t, scheduled)
}
