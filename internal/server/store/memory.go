package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// MemoryStore keeps users in process memory. Each user has its own lock so
// transactions on different users never wait for each other.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	users      map[int64]*models.User
	byUsername map[string]int64
	byToken    map[string]int64
	locks      map[int64]chan struct{}
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]*models.User),
		byUsername: make(map[string]int64),
		byToken:    make(map[string]int64),
		locks:      make(map[int64]chan struct{}),
		now:        time.Now,
	}
}

func (s *MemoryStore) List(_ context.Context) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx := &memoryTx{
		s:       s,
		held:    make(map[int64]chan struct{}),
		working: make(map[int64]*models.User),
	}

	defer func() {
		if p := recover(); p != nil {
			tx.release()
			panic(p)
		}
		if err == nil {
			err = tx.commit()
		}
		tx.release()
	}()

	return fn(ctx, tx)
}

type memoryTx struct {
	s       *MemoryStore
	held    map[int64]chan struct{}
	working map[int64]*models.User
	order   []int64
}

func (t *memoryTx) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return t.load(ctx, id)
}

func (t *memoryTx) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, id := range t.order {
		if u := t.working[id]; u.Username == username {
			return u, nil
		}
	}

	t.s.mu.Lock()
	id, ok := t.s.byUsername[username]
	t.s.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t.load(ctx, id)
}

func (t *memoryTx) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	for _, id := range t.order {
		if u := t.working[id]; u.FindRefreshToken(token) != nil {
			return u, nil
		}
	}

	t.s.mu.Lock()
	id, ok := t.s.byToken[token]
	t.s.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t.load(ctx, id)
}

func (t *memoryTx) Insert(_ context.Context, u *models.User) error {
	for _, id := range t.order {
		if t.working[id].Username == u.Username {
			return fmt.Errorf("username %q: %w", u.Username, common.ErrorAlreadyExists)
		}
	}

	t.s.mu.Lock()
	if _, taken := t.s.byUsername[u.Username]; taken {
		t.s.mu.Unlock()
		return fmt.Errorf("username %q: %w", u.Username, common.ErrorAlreadyExists)
	}
	t.s.nextID++
	u.ID = t.s.nextID
	t.s.mu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = t.s.now().UTC()
	}
	t.track(u)
	return nil
}

func (t *memoryTx) Update(_ context.Context, u *models.User) error {
	if _, ok := t.working[u.ID]; !ok {
		return fmt.Errorf("user %d was not loaded in this transaction", u.ID)
	}
	t.working[u.ID] = u
	return nil
}

// load locks the user and returns the transaction's working copy.
func (t *memoryTx) load(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := t.working[id]; ok {
		return u, nil
	}

	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}

	t.s.mu.Lock()
	committed, ok := t.s.users[id]
	var u *models.User
	if ok {
		u = committed.Clone()
	}
	t.s.mu.Unlock()

	if !ok {
		return nil, common.ErrorNotFound
	}
	t.track(u)
	return u, nil
}

func (t *memoryTx) lock(ctx context.Context, id int64) error {
	t.s.mu.Lock()
	ch, ok := t.s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		t.s.locks[id] = ch
	}
	t.s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		t.held[id] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memoryTx) track(u *models.User) {
	if _, ok := t.working[u.ID]; !ok {
		t.order = append(t.order, u.ID)
	}
	t.working[u.ID] = u
}

// commit validates uniqueness against committed state and publishes every
// working copy at once.
func (t *memoryTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.order {
		u := t.working[id]
		if owner, ok := s.byUsername[u.Username]; ok && owner != id {
			return fmt.Errorf("username %q: %w", u.Username, common.ErrorAlreadyExists)
		}
		seen := make(map[string]struct{}, len(u.RefreshTokens))
		for _, rt := range u.RefreshTokens {
			if _, dup := seen[rt.Token]; dup {
				return fmt.Errorf("refresh token: %w", common.ErrorAlreadyExists)
			}
			seen[rt.Token] = struct{}{}
			if owner, ok := s.byToken[rt.Token]; ok && owner != id {
				return fmt.Errorf("refresh token: %w", common.ErrorAlreadyExists)
			}
		}
	}

	for _, id := range t.order {
		u := t.working[id].Clone()
		if prev, ok := s.users[id]; ok && prev.Username != u.Username {
			delete(s.byUsername, prev.Username)
		}
		for i := range u.RefreshTokens {
			if u.RefreshTokens[i].ID == 0 {
				u.RefreshTokens[i].ID = int64(i + 1)
			}
			s.byToken[u.RefreshTokens[i].Token] = id
		}
		s.users[id] = u
		s.byUsername[u.Username] = id
	}
	return nil
}

func (t *memoryTx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}
