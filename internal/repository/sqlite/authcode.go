package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/model"
)

func (db *DB) CreateAuthCode(ctx context.Context, code *model.AuthCode) error {
	code.CreatedAt = time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO auth_codes (code, user_id, purpose, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		code.Code, code.UserID, code.Purpose, code.ExpiresAt.UTC(), code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting auth code: %w", err)
	}
	return nil
}

// ConsumeAuthCode deletes the code inside a transaction so two concurrent
// exchanges of the same code cannot both succeed.
func (db *DB) ConsumeAuthCode(ctx context.Context, code string, now time.Time) (*model.AuthCode, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning tx: %w", err)
	}
	defer tx.Rollback()

	var ac model.AuthCode
	err = tx.QueryRowContext(ctx,
		`SELECT code, user_id, purpose, expires_at, created_at FROM auth_codes WHERE code = ?`,
		code,
	).Scan(&ac.Code, &ac.UserID, &ac.Purpose, &ac.ExpiresAt, &ac.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("auth code", code)
		}
		return nil, fmt.Errorf("sqlite: reading auth code: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_codes WHERE code = ?`, code); err != nil {
		return nil, fmt.Errorf("sqlite: deleting auth code: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing auth code: %w", err)
	}

	// An expired code is still deleted: it can never become valid again.
	if !now.Before(ac.ExpiresAt) {
		return nil, apperror.NotFound("auth code", code)
	}
	return &ac, nil
}
