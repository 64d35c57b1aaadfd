package refreshtokens

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectToken = `
		SELECT id, user_id, token, created_at, created_by_ip, expires_at,
		       revoked_at, revoked_by_ip, replaced_by_token
		FROM refresh_tokens
	`

func (r *PostgresRepository) Create(ctx context.Context, userID int64, rt *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token, created_at, created_by_ip, expires_at,
		                            revoked_at, revoked_by_ip, replaced_by_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		userID, rt.Token, rt.Created, rt.CreatedByIP, rt.Expires,
		rt.Revoked, rt.RevokedByIP, rt.ReplacedByToken,
	).Scan(&rt.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("refresh token: %w", common.ErrorAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, rt *models.RefreshToken) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = $3, replaced_by_token = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, rt.ID, rt.Revoked, rt.RevokedByIP, rt.ReplacedByToken)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]models.RefreshToken, error) {
	grouped, err := r.list(ctx, selectToken+` WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return grouped[userID], nil
}

func (r *PostgresRepository) ListAll(ctx context.Context) (map[int64][]models.RefreshToken, error) {
	return r.list(ctx, selectToken+` ORDER BY user_id, id`)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) (map[int64][]models.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]models.RefreshToken)
	for rows.Next() {
		var (
			userID  int64
			rt      models.RefreshToken
			revoked sql.NullTime
		)
		if err := rows.Scan(&rt.ID, &userID, &rt.Token, &rt.Created, &rt.CreatedByIP, &rt.Expires,
			&revoked, &rt.RevokedByIP, &rt.ReplacedByToken); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if revoked.Valid {
			ts := revoked.Time
			rt.Revoked = &ts
		}
		result[userID] = append(result[userID], rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
