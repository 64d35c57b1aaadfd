// Package store is the credential store consumed by the user service. A user
// and its refresh token collection form one unit: a transaction loads, locks
// and writes back whole users.
package store

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Store is the read side plus the transactional entry point.
type Store interface {
	// List returns every user with its token history, ordered by id.
	List(ctx context.Context) ([]*models.User, error)
	// Get returns one user with its token history or common.ErrorNotFound.
	Get(ctx context.Context, id int64) (*models.User, error)
	// InTx runs fn in a transaction. Everything written through tx is
	// committed when fn returns nil and discarded otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a unit of work. Users returned by the Find methods are locked until
// the transaction ends, so a concurrent transaction on the same user waits
// and then observes the committed result.
type Tx interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	// FindByRefreshToken returns the owner of token.
	FindByRefreshToken(ctx context.Context, token string) (*models.User, error)
	// Insert stores a new user and assigns its ID.
	Insert(ctx context.Context, u *models.User) error
	// Update persists the profile fields and the whole token collection of a
	// user previously loaded in this transaction.
	Update(ctx context.Context, u *models.User) error
}
