// Package refreshtokens declares the server-side repository contract for
// refresh tokens and its PostgreSQL implementation.
package refreshtokens

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository persists refresh tokens. Rows are never deleted; revocation and
// rotation only update the revocation columns.
type Repository interface {
	// Create inserts rt for userID and fills in rt.ID. A duplicate token
	// value yields common.ErrorAlreadyExists.
	Create(ctx context.Context, userID int64, rt *models.RefreshToken) error

	// Update writes the revocation state of an already persisted token.
	Update(ctx context.Context, rt *models.RefreshToken) error

	// ListByUser returns the user's tokens in issue order.
	ListByUser(ctx context.Context, userID int64) ([]models.RefreshToken, error)

	// ListAll returns every token grouped by owner id.
	ListAll(ctx context.Context) (map[int64][]models.RefreshToken, error)
}
