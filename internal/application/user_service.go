package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	repo "github.com/oksasatya/user-directory/internal/domain/repository"
)

const (
	publishTimeout = 3 * time.Second
	// defaultCacheRedelete covers a reader that missed the cache, loaded the old
	// row, and writes it back just after an invalidation.
	defaultCacheRedelete = 500 * time.Millisecond
)

// DeliveryMode selects how lifecycle events leave the service.
type DeliveryMode string

const (
	// DeliveryDirect publishes after the store commit, best effort.
	DeliveryDirect DeliveryMode = "direct"
	// DeliveryOutbox stores the event with the mutation; OutboxRelay publishes it.
	DeliveryOutbox DeliveryMode = "outbox"
)

func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case DeliveryDirect, DeliveryOutbox:
		return DeliveryMode(s), nil
	}
	return "", fmt.Errorf("unknown event delivery mode %q", s)
}

// ViewCache is a read-through cache for single-user lookups.
type ViewCache interface {
	Get(ctx context.Context, key string) (*UserView, bool)
	Set(ctx context.Context, key string, v *UserView)
	Delete(ctx context.Context, keys ...string)
}

// SearchIndex is a best-effort full text projection of the directory.
type SearchIndex interface {
	Index(ctx context.Context, v UserView) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, q string, size int) ([]UserView, error)
}

// Exporter writes a snapshot of the directory somewhere durable and returns its location.
type Exporter interface {
	Export(ctx context.Context, users []UserView) (string, error)
}

// Service owns the user lifecycle. It is the only writer of user records.
type Service struct {
	Repo      repo.UserRepository
	Publisher repo.EventPublisher
	Delivery  DeliveryMode
	Logger    *logrus.Logger

	// Optional collaborators; nil disables the feature.
	Cache    ViewCache
	Index    SearchIndex
	Exporter Exporter

	// CacheRedelete is the delay before invalidated keys are deleted a second
	// time. Zero deletes once.
	CacheRedelete time.Duration

	now   func() time.Time
	after func(d time.Duration, f func())
}

func NewService(r repo.UserRepository, pub repo.EventPublisher, delivery DeliveryMode, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if delivery == "" {
		delivery = DeliveryOutbox
	}
	return &Service{
		Repo:          r,
		Publisher:     pub,
		Delivery:      delivery,
		Logger:        logger,
		CacheRedelete: defaultCacheRedelete,
		now:           time.Now,
		after:         func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

func keyByID(id string) string       { return "user:view:id:" + id }
func keyByEmail(email string) string { return "user:view:email:" + email }

// Create registers a new user and announces it with a CREATE event.
func (s *Service) Create(ctx context.Context, in CreateUserInput) (UserView, error) {
	exists, err := s.Repo.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return UserView{}, s.storageErr("exists_by_email", err)
	}
	if exists {
		return UserView{}, &ConflictError{Email: in.Email}
	}

	u := &entity.User{
		Name:      in.Name,
		Email:     in.Email,
		Age:       in.Age,
		CreatedAt: s.now().UTC(),
	}
	ev := entity.NewUserEvent(u.Email, entity.OperationCreate, u.CreatedAt)
	if err := s.Repo.Save(ctx, u, s.staged(&ev)...); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return UserView{}, &ConflictError{Email: in.Email}
		}
		return UserView{}, s.storageErr("save", err)
	}
	usersCreated.Add(1)

	s.emit(ctx, ev)

	view := toView(u)
	s.indexUser(ctx, view)
	return view, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (UserView, error) {
	if v, ok := s.cacheGet(ctx, keyByID(id)); ok {
		return *v, nil
	}
	u, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return UserView{}, &NotFoundError{ID: id}
		}
		return UserView{}, s.storageErr("find_by_id", err)
	}
	view := toView(u)
	s.cacheSet(ctx, keyByID(id), &view)
	return view, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (UserView, error) {
	if v, ok := s.cacheGet(ctx, keyByEmail(email)); ok {
		return *v, nil
	}
	u, err := s.Repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return UserView{}, &NotFoundError{Email: email}
		}
		return UserView{}, s.storageErr("find_by_email", err)
	}
	view := toView(u)
	s.cacheSet(ctx, keyByEmail(email), &view)
	return view, nil
}

// GetAll returns every user in store order. An empty directory yields an empty slice.
func (s *Service) GetAll(ctx context.Context) ([]UserView, error) {
	users, err := s.Repo.FindAll(ctx)
	if err != nil {
		return nil, s.storageErr("find_all", err)
	}
	return toViews(users), nil
}

// Update overwrites the supplied non-zero fields. ID and CreatedAt never change
// and no event is emitted.
func (s *Service) Update(ctx context.Context, id string, in UpdateUserInput) (UserView, error) {
	u, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return UserView{}, &NotFoundError{ID: id}
		}
		return UserView{}, s.storageErr("find_by_id", err)
	}

	oldEmail := u.Email
	if in.Email != "" && in.Email != u.Email {
		exists, err := s.Repo.ExistsByEmail(ctx, in.Email)
		if err != nil {
			return UserView{}, s.storageErr("exists_by_email", err)
		}
		if exists {
			return UserView{}, &ConflictError{Email: in.Email}
		}
		u.Email = in.Email
	}
	if in.Name != "" {
		u.Name = in.Name
	}
	if in.Age > 0 {
		u.Age = in.Age
	}

	if err := s.Repo.Save(ctx, u); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicateEmail):
			return UserView{}, &ConflictError{Email: u.Email}
		case errors.Is(err, repo.ErrNotFound):
			return UserView{}, &NotFoundError{ID: id}
		}
		return UserView{}, s.storageErr("save", err)
	}

	s.cacheDelete(ctx, keyByID(id), keyByEmail(oldEmail), keyByEmail(u.Email))
	view := toView(u)
	s.indexUser(ctx, view)
	return view, nil
}

// DeleteByID removes a user. Unknown ids are a successful no-op without an event.
// The DELETE event is keyed by the email seen at lookup time, even if another
// caller removed the record in between.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	u, err := s.Repo.FindByID(ctx, id)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return s.storageErr("find_by_id", err)
	}

	var ev *entity.UserEvent
	if u != nil {
		e := entity.NewUserEvent(u.Email, entity.OperationDelete, s.now())
		ev = &e
	}
	if err := s.Repo.DeleteByID(ctx, id, s.staged(ev)...); err != nil {
		return s.storageErr("delete_by_id", err)
	}
	if ev == nil {
		return nil
	}
	usersDeleted.Add(1)

	s.emit(ctx, *ev)
	s.cacheDelete(ctx, keyByID(id), keyByEmail(u.Email))
	s.unindexUser(ctx, id)
	return nil
}

// Search queries the search projection. Without an index it returns no hits.
func (s *Service) Search(ctx context.Context, q string, size int) ([]UserView, error) {
	if s.Index == nil {
		return []UserView{}, nil
	}
	switch {
	case size <= 0:
		size = 10
	case size > 50:
		size = 50
	}
	return s.Index.Search(ctx, q, size)
}

// Export writes the whole directory through the configured Exporter.
func (s *Service) Export(ctx context.Context) (string, error) {
	if s.Exporter == nil {
		return "", ErrExportNotConfigured
	}
	users, err := s.GetAll(ctx)
	if err != nil {
		return "", err
	}
	return s.Exporter.Export(ctx, users)
}

// staged returns the events to commit with the mutation in outbox mode.
func (s *Service) staged(ev *entity.UserEvent) []entity.UserEvent {
	if ev == nil || s.Delivery != DeliveryOutbox {
		return nil
	}
	return []entity.UserEvent{*ev}
}

// emit publishes in direct mode. Failures are logged and swallowed.
func (s *Service) emit(ctx context.Context, ev entity.UserEvent) {
	if s.Delivery != DeliveryDirect || s.Publisher == nil {
		return
	}
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.Publisher.Publish(c, ev.Key(), ev); err != nil {
		eventPublishFailure.Add(1)
		s.Logger.WithError(err).WithFields(logrus.Fields{
			"event_id": ev.ID,
			"email":    ev.Email,
			"op":       ev.Operation,
		}).Warn("publish user event failed")
		return
	}
	eventsPublished.Add(1)
}

func (s *Service) storageErr(op string, err error) error {
	s.Logger.WithError(err).WithField("op", op).Error("user store failure")
	return &StorageError{Op: op, Err: err}
}

func (s *Service) cacheGet(ctx context.Context, key string) (*UserView, bool) {
	if s.Cache == nil {
		return nil, false
	}
	return s.Cache.Get(ctx, key)
}

func (s *Service) cacheSet(ctx context.Context, key string, v *UserView) {
	if s.Cache != nil {
		s.Cache.Set(ctx, key, v)
	}
}

// cacheDelete invalidates keys now and again after CacheRedelete, so a stale
// view written back by a concurrent read-through does not outlive the delay.
func (s *Service) cacheDelete(ctx context.Context, keys ...string) {
	if s.Cache == nil {
		return
	}
	s.Cache.Delete(ctx, keys...)
	if s.CacheRedelete <= 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	s.after(s.CacheRedelete, func() { s.Cache.Delete(bg, keys...) })
}

func (s *Service) indexUser(ctx context.Context, v UserView) {
	if s.Index == nil {
		return
	}
	if err := s.Index.Index(ctx, v); err != nil {
		s.Logger.WithError(err).WithField("user_id", v.ID).Warn("search index failed")
	}
}

func (s *Service) unindexUser(ctx context.Context, id string) {
	if s.Index == nil {
		return
	}
	if err := s.Index.Remove(ctx, id); err != nil {
		s.Logger.WithError(err).WithField("user_id", id).Warn("search unindex failed")
	}
}
