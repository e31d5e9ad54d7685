package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/model"
)

const userColumns = `id, email, password_hash, provider, provider_id, email_verified, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Provider, &u.ProviderID,
		&u.EmailVerified, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Provider == "" {
		user.Provider = model.ProviderEmail
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.Provider, user.ProviderID,
		user.EmailVerified, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("User already registered")
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return u, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return u, nil
}

// UpsertOAuthUser mirrors the sqlite implementation: provider identity first,
// then email, then insert.
func (db *DB) UpsertOAuthUser(ctx context.Context, user *model.User) error {
	existing, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`,
		user.Provider, user.ProviderID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err = scanUser(db.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`, user.Email,
		))
	}

	switch {
	case err == nil:
		existing.EmailVerified = true
		existing.UpdatedAt = time.Now().UTC()
		if _, err := db.pool.Exec(ctx,
			`UPDATE users SET email_verified = TRUE, updated_at = $1 WHERE id = $2`,
			existing.UpdatedAt, existing.ID,
		); err != nil {
			return fmt.Errorf("postgres: refreshing user %s: %w", existing.ID, err)
		}
		*user = *existing
		return nil

	case errors.Is(err, pgx.ErrNoRows):
		user.EmailVerified = true
		return db.CreateUser(ctx, user)

	default:
		return fmt.Errorf("postgres: looking up %s user %s: %w", user.Provider, user.ProviderID, err)
	}
}

func (db *DB) MarkEmailVerified(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET email_verified = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: verifying user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func (db *DB) DeleteUser(ctx context.Context, id string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: beginning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM auth_codes WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: deleting auth codes of %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deleting user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing user delete: %w", err)
	}
	return nil
}
