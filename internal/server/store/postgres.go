package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// PostgresStore maps users and their refresh tokens onto the users and
// refresh_tokens tables.
type PostgresStore struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func NewPostgresStore(db *sql.DB, repos repomanager.RepositoryManager) *PostgresStore {
	return &PostgresStore{db: db, repos: repos}
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.User, error) {
	list, err := s.repos.Users(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := s.repos.RefreshTokens(s.db).ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range list {
		u.RefreshTokens = tokens[u.ID]
	}
	return list, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.repos.Users(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.RefreshTokens, err = s.repos.RefreshTokens(s.db).ListByUser(ctx, id); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, db dbx.DBTX) error {
		return fn(ctx, &postgresTx{
			users:    s.repos.Users(db),
			tokens:   s.repos.RefreshTokens(db),
			snapshot: make(map[int64]models.RefreshToken),
			loaded:   make(map[int64]*models.User),
		})
	})
}

type postgresTx struct {
	users  users.Repository
	tokens refreshtokens.Repository
	// snapshot holds tokens as loaded, keyed by row id, to detect changes.
	snapshot map[int64]models.RefreshToken
	loaded   map[int64]*models.User
}

func (t *postgresTx) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return t.load(ctx, id)
}

func (t *postgresTx) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := t.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return t.load(ctx, u.ID)
}

func (t *postgresTx) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	u, err := t.users.GetByRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return t.load(ctx, u.ID)
}

// load locks the user row first and only then reads the user and its tokens,
// so the data reflects whatever a concurrent transaction committed while this
// one was waiting for the lock.
func (t *postgresTx) load(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := t.loaded[id]; ok {
		return u, nil
	}

	if err := t.users.Lock(ctx, id); err != nil {
		return nil, err
	}
	u, err := t.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.RefreshTokens, err = t.tokens.ListByUser(ctx, id); err != nil {
		return nil, err
	}
	for _, rt := range u.RefreshTokens {
		t.snapshot[rt.ID] = rt.Clone()
	}
	t.loaded[id] = u
	return u, nil
}

func (t *postgresTx) Insert(ctx context.Context, u *models.User) error {
	if _, err := t.users.Create(ctx, u); err != nil {
		return err
	}
	t.loaded[u.ID] = u
	return t.writeTokens(ctx, u)
}

func (t *postgresTx) Update(ctx context.Context, u *models.User) error {
	if _, ok := t.loaded[u.ID]; !ok {
		return fmt.Errorf("user %d was not loaded in this transaction", u.ID)
	}
	if err := t.users.Update(ctx, u); err != nil {
		return err
	}
	return t.writeTokens(ctx, u)
}

// writeTokens inserts new tokens and updates those whose revocation state
// changed since load.
func (t *postgresTx) writeTokens(ctx context.Context, u *models.User) error {
	for i := range u.RefreshTokens {
		rt := &u.RefreshTokens[i]

		if rt.ID == 0 {
			if err := t.tokens.Create(ctx, u.ID, rt); err != nil {
				return err
			}
			t.snapshot[rt.ID] = rt.Clone()
			continue
		}

		prev, ok := t.snapshot[rt.ID]
		if ok && !revocationChanged(prev, *rt) {
			continue
		}
		if err := t.tokens.Update(ctx, rt); err != nil {
			return err
		}
		t.snapshot[rt.ID] = rt.Clone()
	}
	return nil
}

func revocationChanged(a, b models.RefreshToken) bool {
	if a.RevokedByIP != b.RevokedByIP || a.ReplacedByToken != b.ReplacedByToken {
		return true
	}
	if (a.Revoked == nil) != (b.Revoked == nil) {
		return true
	}
	return a.Revoked != nil && !a.Revoked.Equal(*b.Revoked)
}
