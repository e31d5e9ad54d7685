package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/model"
)

func (db *DB) CreateAuthCode(ctx context.Context, code *model.AuthCode) error {
	code.CreatedAt = time.Now().UTC()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO auth_codes (code, user_id, purpose, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		code.Code, code.UserID, code.Purpose, code.ExpiresAt.UTC(), code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting auth code: %w", err)
	}
	return nil
}

// ConsumeAuthCode uses DELETE ... RETURNING so the read and the delete are a
// single statement.
func (db *DB) ConsumeAuthCode(ctx context.Context, code string, now time.Time) (*model.AuthCode, error) {
	var ac model.AuthCode
	err := db.pool.QueryRow(ctx,
		`DELETE FROM auth_codes WHERE code = $1
		 RETURNING code, user_id, purpose, expires_at, created_at`,
		code,
	).Scan(&ac.Code, &ac.UserID, &ac.Purpose, &ac.ExpiresAt, &ac.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("auth code", code)
		}
		return nil, fmt.Errorf("postgres: consuming auth code: %w", err)
	}

	if !now.Before(ac.ExpiresAt) {
		return nil, apperror.NotFound("auth code", code)
	}
	return &ac, nil
}
