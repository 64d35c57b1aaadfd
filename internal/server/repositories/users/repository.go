// Package users declares the persistence contract for user accounts and its
// PostgreSQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository stores user rows. Refresh tokens live in their own repository;
// the returned users carry an empty token collection.
type Repository interface {
	// Create inserts user and fills in its ID. A taken username yields
	// common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// Update overwrites the mutable profile fields of an existing user.
	Update(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// GetByRefreshToken returns the owner of token.
	GetByRefreshToken(ctx context.Context, token string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	// Lock takes a row lock on the user until the surrounding transaction ends.
	Lock(ctx context.Context, id int64) error
}
