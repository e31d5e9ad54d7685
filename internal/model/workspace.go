package model

import "time"

// Workspace is a persisted, named code snippet with an optional AI
// explanation. Workspaces are insert-only: every save creates a new row and
// nothing updates or deletes one.
type Workspace struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Code        string    `json:"code"`
	Explanation string    `json:"explanation,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
