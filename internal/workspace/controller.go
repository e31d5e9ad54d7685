// Package workspace holds the editor's per-user state machine and the pieces
// around it: the Session Guard that admits a user to the editor and the
// Registry that keeps one Controller per signed-in user.
//
// STATE MACHINE:
//
//	        Run            AskAI           Save
//	Idle ───────► Running  ───────► Explaining ───────► Saving
//	  ▲              │                  │                 │
//	  └──────────────┴──── settle ──────┴─────────────────┘
//
// Only Idle accepts a new network operation. Everything else gets
// apperror.ErrBusy, so a slow Run can never settle on top of a newer reset.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/bridge"
	"github.com/sakif/nalar/internal/model"
)

const (
	// DefaultCode is the buffer a fresh editor opens with.
	DefaultCode = "# Type your code here\nprint('Hello Nalar!')"
	// NewWorkspaceCode is the buffer after NewWorkspace.
	NewWorkspaceCode = "# Start coding here..."

	RunFallback     = "Backend is not responding. Make sure the local server is running."
	ExplainFallback = "Failed to connect to the AI module."

	DefaultTitle = "New Exercise"
	LoginRoute   = "/login"
)

// Runner is the Execution Bridge.
type Runner interface {
	Run(ctx context.Context, code string) (*bridge.RunOutput, error)
}

// Explainer is the Explanation Bridge.
type Explainer interface {
	Explain(ctx context.Context, code string) (string, error)
}

// Store is the Workspace Store.
type Store interface {
	List(ctx context.Context, ownerID string) []model.Workspace
	Save(ctx context.Context, ownerID, title, code, explanation string) (*model.Workspace, error)
	Get(ctx context.Context, ownerID, id string) (*model.Workspace, error)
}

// SignOuter ends a session.
type SignOuter interface {
	SignOut(ctx context.Context, token string) error
}

// Confirm asks the user to approve discarding the current buffer.
type Confirm func() bool

// TitlePrompt asks the user for a title, offering def. ok is false when the
// user dismissed the prompt.
type TitlePrompt func(def string) (title string, ok bool)

// Deps are a Controller's collaborators.
type Deps struct {
	Runner    Runner
	Explainer Explainer
	Store     Store
	Auth      SignOuter
	Logger    *slog.Logger
}

// Controller owns one user's editor state.
type Controller struct {
	deps    Deps
	ownerID string

	mu          sync.Mutex
	status      model.Status
	code        string
	stdout      string
	stderr      string
	explanation string
	sidebarOpen bool
	lastFailure *model.Failure
	workspaces  []model.Workspace
	lastUsed    time.Time
}

// NewController returns an Idle controller for ownerID. An empty ownerID is an
// anonymous editor: everything works except Save.
func NewController(ownerID string, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{
		deps:       deps,
		ownerID:    ownerID,
		status:     model.StatusIdle,
		code:       DefaultCode,
		workspaces: []model.Workspace{},
		lastUsed:   time.Now(),
	}
}

// Snapshot returns a copy of the state for rendering.
func (c *Controller) Snapshot() model.EditorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.EditorState {
	s := model.EditorState{
		Code:        c.code,
		Stdout:      c.stdout,
		Stderr:      c.stderr,
		Explanation: c.explanation,
		Status:      c.status,
		Busy:        c.status != model.StatusIdle,
		SidebarOpen: c.sidebarOpen,
		CanAskAI:    c.canAskAILocked(),
		Workspaces:  append([]model.Workspace(nil), c.workspaces...),
	}
	if s.Workspaces == nil {
		s.Workspaces = []model.Workspace{}
	}
	if c.lastFailure != nil {
		f := *c.lastFailure
		s.LastFailure = &f
	}
	return s
}

// SetCode replaces the buffer. Editing is allowed while an operation is in
// flight; the operation keeps the code it started with.
func (c *Controller) SetCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	c.code = code
}

// SetWorkspaces replaces the sidebar list, e.g. after the guard loaded it.
func (c *Controller) SetWorkspaces(list []model.Workspace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workspaces = append([]model.Workspace(nil), list...)
}

// ToggleSidebar opens or closes the saved-workspaces panel.
func (c *Controller) ToggleSidebar(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	c.sidebarOpen = open
}

// NewWorkspace resets the editor. When the buffer holds user code, confirm
// must approve; a declined confirmation returns false and changes nothing.
func (c *Controller) NewWorkspace(confirm Confirm) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()

	if err := c.requireIdleLocked(); err != nil {
		return false, err
	}
	if c.dirtyLocked() && !ask(confirm) {
		return false, nil
	}

	c.code = NewWorkspaceCode
	c.clearResultsLocked()
	c.explanation = ""
	c.sidebarOpen = false
	return true, nil
}

// LoadWorkspace replaces the buffer and explanation with a saved workspace,
// with the same confirmation rule as NewWorkspace.
func (c *Controller) LoadWorkspace(ctx context.Context, id string, confirm Confirm) (bool, error) {
	if c.Status() != model.StatusIdle {
		return false, apperror.Busy(string(c.Status()))
	}

	ws, err := c.deps.Store.Get(ctx, c.ownerID, id)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()

	// Re-check: something may have started while the record was loading.
	if err := c.requireIdleLocked(); err != nil {
		return false, err
	}
	if c.dirtyLocked() && !ask(confirm) {
		return false, nil
	}

	c.code = ws.Code
	c.explanation = ws.Explanation
	c.clearResultsLocked()
	return true, nil
}

// Run executes the buffer. A bridge failure does not come back as an error:
// the fallback text goes into stdout and LastFailure records why. Only
// ErrBusy is returned.
func (c *Controller) Run(ctx context.Context) (model.EditorState, error) {
	code, err := c.begin(model.StatusRunning, func() error {
		c.clearResultsLocked()
		c.explanation = ""
		return nil
	})
	if err != nil {
		return model.EditorState{}, err
	}

	// A blank program prints nothing; the backend is not asked.
	if strings.TrimSpace(code) == "" {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.status = model.StatusIdle
		return c.snapshotLocked(), nil
	}

	out, runErr := c.deps.Runner.Run(ctx, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = model.StatusIdle
	if runErr != nil {
		c.deps.Logger.WarnContext(ctx, "run failed", "ownerID", c.ownerID, "error", runErr)
		c.stdout = RunFallback
		c.stderr = ""
		c.lastFailure = classify(runErr)
	} else {
		c.stdout = out.Stdout
		c.stderr = out.Stderr
	}
	return c.snapshotLocked(), nil
}

// AskAI asks for an explanation of the buffer. It is only offered after a run
// that wrote to stderr and before an explanation exists; otherwise
// ErrConflict.
func (c *Controller) AskAI(ctx context.Context) (model.EditorState, error) {
	code, err := c.begin(model.StatusExplaining, func() error {
		if !c.canAskAILocked() {
			return apperror.Conflict("there is no error to explain")
		}
		c.lastFailure = nil
		return nil
	})
	if err != nil {
		return model.EditorState{}, err
	}

	explanation, explainErr := c.deps.Explainer.Explain(ctx, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = model.StatusIdle
	if explainErr != nil {
		c.deps.Logger.WarnContext(ctx, "explain failed", "ownerID", c.ownerID, "error", explainErr)
		c.explanation = ExplainFallback
		c.lastFailure = classify(explainErr)
	} else {
		c.explanation = explanation
	}
	return c.snapshotLocked(), nil
}

// Save stores the buffer and explanation as a new workspace and refreshes the
// sidebar list. Without an identity it does nothing and returns (nil, nil).
// A dismissed or blank title saves as "Untitled Project".
func (c *Controller) Save(ctx context.Context, prompt TitlePrompt) (*model.Workspace, error) {
	if c.ownerID == "" {
		return nil, nil
	}

	var explanation string
	code, err := c.begin(model.StatusSaving, func() error {
		explanation = c.explanation
		return nil
	})
	if err != nil {
		return nil, err
	}

	title := ""
	if prompt != nil {
		if t, ok := prompt(DefaultTitle); ok {
			title = strings.TrimSpace(t)
		}
	}

	ws, saveErr := c.deps.Store.Save(ctx, c.ownerID, title, code, explanation)
	var list []model.Workspace
	if saveErr == nil {
		list = c.deps.Store.List(ctx, c.ownerID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = model.StatusIdle
	if saveErr != nil {
		return nil, saveErr
	}
	c.workspaces = list
	return ws, nil
}

// Logout signs the session out and returns the route to navigate to. The
// sign-out outcome is only logged; the user lands on the login page anyway.
func (c *Controller) Logout(ctx context.Context, token string) string {
	if err := c.deps.Auth.SignOut(ctx, token); err != nil {
		c.deps.Logger.WarnContext(ctx, "sign-out failed", "ownerID", c.ownerID, "error", err)
	}
	return LoginRoute
}

// Status is the current state tag.
func (c *Controller) Status() model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// idleSince reports whether the controller is Idle and when it was last used.
func (c *Controller) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed, c.status == model.StatusIdle
}

// begin moves Idle → next after prepare accepts, and returns the code the
// operation should work on.
func (c *Controller) begin(next model.Status, prepare func() error) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()

	if err := c.requireIdleLocked(); err != nil {
		return "", err
	}
	if err := prepare(); err != nil {
		return "", err
	}
	c.status = next
	return c.code, nil
}

func (c *Controller) requireIdleLocked() error {
	if c.status != model.StatusIdle {
		return apperror.Busy(string(c.status))
	}
	return nil
}

func (c *Controller) canAskAILocked() bool {
	return c.status == model.StatusIdle && c.stderr != "" && c.explanation == ""
}

// dirtyLocked reports whether the buffer holds something other than one of
// the placeholders.
func (c *Controller) dirtyLocked() bool {
	return c.code != DefaultCode && c.code != NewWorkspaceCode
}

func (c *Controller) clearResultsLocked() {
	c.stdout = ""
	c.stderr = ""
	c.lastFailure = nil
}

func (c *Controller) touchLocked() {
	c.lastUsed = time.Now()
}

func ask(confirm Confirm) bool {
	return confirm != nil && confirm()
}

func classify(err error) *model.Failure {
	kind := model.FailureUpstream
	if errors.Is(err, apperror.ErrUnavailable) {
		kind = model.FailureUnavailable
	}
	return &model.Failure{Kind: kind, Detail: err.Error()}
}
