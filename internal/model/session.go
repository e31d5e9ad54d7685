package model

// Status is the tagged state of a workspace controller. Exactly one network
// operation can be in flight, and which one is explicit.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusExplaining Status = "explaining"
	StatusSaving     Status = "saving"
)

// FailureKind separates "could not reach the backend" from "the backend
// answered with an error".
type FailureKind string

const (
	FailureUnavailable FailureKind = "unavailable"
	FailureUpstream    FailureKind = "upstream"
)

// Failure describes why the last run or explanation fell back to a canned
// message.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

// EditorState is a point-in-time copy of a workspace controller's in-memory
// state, safe to serialise and hand to the presentation layer.
type EditorState struct {
	Code        string      `json:"code"`
	Stdout      string      `json:"stdout"`
	Stderr      string      `json:"stderr"`
	Explanation string      `json:"explanation"`
	Status      Status      `json:"status"`
	Busy        bool        `json:"busy"`
	SidebarOpen bool        `json:"sidebarOpen"`
	CanAskAI    bool        `json:"canAskAI"`
	LastFailure *Failure    `json:"lastFailure,omitempty"`
	Workspaces  []Workspace `json:"workspaces"`
}
