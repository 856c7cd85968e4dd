// Package memory is a process-local record store with the same contract as the
// Postgres adapter: unique email, store-assigned ids, and a transactional outbox.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oksasatya/user-directory/internal/domain/entity"
	"github.com/oksasatya/user-directory/internal/domain/repository"
)

type Store struct {
	mu      sync.Mutex
	users   map[string]entity.User
	byEmail map[string]string
	order   []string
	outbox  []*entity.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		users:   map[string]entity.User{},
		byEmail: map[string]string{},
	}
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// FindAll returns users in insertion order.
func (s *Store) FindAll(ctx context.Context) ([]entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.User, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.users[id])
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, u *entity.User, events ...entity.UserEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.byEmail[u.Email]; taken && owner != u.ID {
		return repository.ErrDuplicateEmail
	}

	if u.IsNew() {
		u.ID = uuid.NewString()
		s.order = append(s.order, u.ID)
	} else {
		prev, ok := s.users[u.ID]
		if !ok {
			return repository.ErrNotFound
		}
		delete(s.byEmail, prev.Email)
		// created_at is immutable after insert
		u.CreatedAt = prev.CreatedAt
	}
	s.users[u.ID] = *u
	s.byEmail[u.Email] = u.ID
	s.appendOutbox(events)
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, id string, events ...entity.UserEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		delete(s.users, id)
		delete(s.byEmail, u.Email)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.appendOutbox(events)
	return nil
}

func (s *Store) appendOutbox(events []entity.UserEvent) {
	for _, ev := range events {
		s.outbox = append(s.outbox, &entity.OutboxEvent{
			Event:         ev,
			Status:        entity.OutboxPending,
			NextAttemptAt: ev.OccurredAt,
		})
	}
}

func (s *Store) Lease(ctx context.Context, limit int, now time.Time, ttl time.Duration) ([]entity.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Rows are kept in commit order. A row that is leased or backing off holds
	// back every later row of the same email.
	due := make([]*entity.OutboxEvent, 0, limit)
	blocked := make(map[string]bool)
	for _, o := range s.outbox {
		if len(due) == limit {
			break
		}
		if o.Status != entity.OutboxPending && o.Status != entity.OutboxLeased {
			continue
		}
		if blocked[o.Event.Email] {
			continue
		}
		pending := o.Status == entity.OutboxPending && !o.NextAttemptAt.After(now)
		expired := o.Status == entity.OutboxLeased && !o.LeaseUntil.After(now)
		if pending || expired {
			due = append(due, o)
			continue
		}
		blocked[o.Event.Email] = true
	}

	out := make([]entity.OutboxEvent, 0, len(due))
	for _, o := range due {
		o.Status = entity.OutboxLeased
		o.LeaseUntil = now.Add(ttl)
		out = append(out, *o)
	}
	return out, nil
}

func (s *Store) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.findOutbox(id)
	if o == nil || o.Status != entity.OutboxLeased {
		return repository.ErrNotFound
	}
	o.Status = entity.OutboxPending
	o.LeaseUntil = time.Time{}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.findOutbox(id)
	if o == nil {
		return repository.ErrNotFound
	}
	o.Status = entity.OutboxDelivered
	o.DeliveredAt = at
	o.LeaseUntil = time.Time{}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string, next time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.findOutbox(id)
	if o == nil {
		return repository.ErrNotFound
	}
	o.Attempts++
	o.LastError = reason
	o.NextAttemptAt = next
	o.LeaseUntil = time.Time{}
	o.Status = entity.OutboxPending
	if dead {
		o.Status = entity.OutboxDead
	}
	return nil
}

// Outbox returns a snapshot of every outbox row in insertion order.
func (s *Store) Outbox() []entity.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.OutboxEvent, 0, len(s.outbox))
	for _, o := range s.outbox {
		out = append(out, *o)
	}
	return out
}

func (s *Store) findOutbox(id string) *entity.OutboxEvent {
	for _, o := range s.outbox {
		if o.Event.ID == id {
			return o
		}
	}
	return nil
}

var (
	_ repository.UserRepository   = (*Store)(nil)
	_ repository.OutboxRepository = (*Store)(nil)
)
