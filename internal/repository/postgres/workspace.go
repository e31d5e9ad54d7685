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

func (db *DB) InsertWorkspace(ctx context.Context, ws *model.Workspace) error {
	ws.ID = xid.New().String()
	ws.CreatedAt = time.Now().UTC()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO workspaces (id, owner_id, title, code_content, explanation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ws.ID, ws.OwnerID, ws.Title, ws.Code, ws.Explanation, ws.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting workspace: %w", err)
	}
	return nil
}

func (db *DB) ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]model.Workspace, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, owner_id, title, code_content, explanation, created_at
		 FROM workspaces
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, seq DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := []model.Workspace{}
	for rows.Next() {
		var ws model.Workspace
		if err := rows.Scan(&ws.ID, &ws.OwnerID, &ws.Title, &ws.Code, &ws.Explanation, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scanning workspace row: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating workspaces: %w", err)
	}
	return workspaces, nil
}

func (db *DB) GetWorkspaceByID(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	err := db.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, code_content, explanation, created_at
		 FROM workspaces WHERE id = $1`,
		id,
	).Scan(&ws.ID, &ws.OwnerID, &ws.Title, &ws.Code, &ws.Explanation, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("workspace", id)
		}
		return nil, fmt.Errorf("postgres: getting workspace %s: %w", id, err)
	}
	return &ws, nil
}
