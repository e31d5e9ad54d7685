package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/model"
)

// InsertWorkspace stores a new workspace. ID and CreatedAt are assigned here.
func (db *DB) InsertWorkspace(ctx context.Context, ws *model.Workspace) error {
	ws.ID = xid.New().String()
	ws.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO workspaces (id, owner_id, title, code_content, explanation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ws.ID,
		ws.OwnerID,
		ws.Title,
		ws.Code,
		ws.Explanation,
		ws.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting workspace: %w", err)
	}

	return nil
}

// ListWorkspacesByOwner returns newest first. Rows saved within the same
// clock tick keep insertion order through rowid.
func (db *DB) ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]model.Workspace, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, owner_id, title, code_content, explanation, created_at
		 FROM workspaces
		 WHERE owner_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := []model.Workspace{}
	for rows.Next() {
		var ws model.Workspace
		if err := rows.Scan(
			&ws.ID, &ws.OwnerID, &ws.Title, &ws.Code, &ws.Explanation, &ws.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning workspace row: %w", err)
		}
		workspaces = append(workspaces, ws)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating workspaces: %w", err)
	}

	return workspaces, nil
}

func (db *DB) GetWorkspaceByID(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, owner_id, title, code_content, explanation, created_at
		 FROM workspaces WHERE id = ?`,
		id,
	).Scan(&ws.ID, &ws.OwnerID, &ws.Title, &ws.Code, &ws.Explanation, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("workspace", id)
		}
		return nil, fmt.Errorf("sqlite: getting workspace %s: %w", id, err)
	}
	return &ws, nil
}
