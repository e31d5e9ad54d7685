package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/auth"
	"github.com/sakif/nalar/internal/model"
	"github.com/sakif/nalar/internal/service"
	"github.com/sakif/nalar/internal/workspace"
)

// WorkspaceHandler drives the editor. Every route works on the caller's own
// Controller from the registry, so two browser tabs of one user share state.
//
// The confirmation and title prompts of the editor become request fields:
// the client asks the user first and sends the answer along.
type WorkspaceHandler struct {
	guard    *workspace.Guard
	registry *workspace.Registry
	store    *service.WorkspaceService
	secure   bool
	logger   *slog.Logger
}

func NewWorkspaceHandler(
	guard *workspace.Guard,
	registry *workspace.Registry,
	store *service.WorkspaceService,
	secureCookies bool,
	logger *slog.Logger,
) *WorkspaceHandler {
	return &WorkspaceHandler{
		guard:    guard,
		registry: registry,
		store:    store,
		secure:   secureCookies,
		logger:   logger,
	}
}

type editorResponse struct {
	User       *model.User       `json:"user"`
	Workspaces []model.Workspace `json:"workspaces"`
	State      model.EditorState `json:"state"`
}

type saveRequest struct {
	// Title is the answer to the title prompt; absent means dismissed.
	Title *string `json:"title" validate:"omitempty,max=100"`
}

type saveResponse struct {
	Workspace *model.Workspace  `json:"workspace"`
	State     model.EditorState `json:"state"`
}

type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

type codeRequest struct {
	Code *string `json:"code" validate:"required,max=100000"`
}

type sidebarRequest struct {
	Open bool `json:"open"`
}

// HandleEditor is the Session Guard's front door.
//
// HTTP: GET /
//
// Anyone without a live session is sent to /login with 303 See Other, which
// makes the browser follow up with a GET whatever the original method was.
func (h *WorkspaceHandler) HandleEditor(w http.ResponseWriter, r *http.Request) {
	entry, err := h.guard.Enter(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		http.Redirect(w, r, workspace.LoginRoute, http.StatusSeeOther)
		return
	}

	ctrl := h.registry.Get(entry.User.ID)
	ctrl.SetWorkspaces(entry.Workspaces)

	writeJSON(w, http.StatusOK, editorResponse{
		User:       entry.User,
		Workspaces: entry.Workspaces,
		State:      ctrl.Snapshot(),
	})
}

// HandleList returns the caller's saved workspaces, newest first.
//
// HTTP: GET /api/workspaces
func (h *WorkspaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, h.store.List(r.Context(), userID))
}

// HandleState returns the editor snapshot.
//
// HTTP: GET /api/workspace
func (h *WorkspaceHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// HandleRun executes the buffer.
//
// HTTP: POST /api/workspace/run
//
// A dead backend is not an HTTP error: the snapshot comes back with the
// fallback text in stdout and lastFailure set. Only a busy editor is 409.
func (h *WorkspaceHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	state, err := ctrl.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleExplain asks for an explanation of the last error.
//
// HTTP: POST /api/workspace/explain
func (h *WorkspaceHandler) HandleExplain(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	state, err := ctrl.AskAI(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleSave stores the buffer as a new workspace.
//
// HTTP: POST /api/workspace/save {"title": "..."}
func (h *WorkspaceHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ws, err := ctrl.Save(r.Context(), func(string) (string, bool) {
		if req.Title == nil {
			return "", false
		}
		return *req.Title, true
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saveResponse{Workspace: ws, State: ctrl.Snapshot()})
}

// HandleNew resets the editor.
//
// HTTP: POST /api/workspace/new {"confirm": true}
func (h *WorkspaceHandler) HandleNew(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	applied, err := ctrl.NewWorkspace(func() bool { return req.Confirm })
	h.respondReplaced(w, ctrl, applied, err)
}

// HandleLoad opens a saved workspace.
//
// HTTP: POST /api/workspace/load/{id} {"confirm": true}
func (h *WorkspaceHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	applied, err := ctrl.LoadWorkspace(r.Context(), chi.URLParam(r, "id"), func() bool { return req.Confirm })
	h.respondReplaced(w, ctrl, applied, err)
}

// respondReplaced answers New and Load. Unsaved code without confirm=true is
// a 409 that leaves the editor as it was; the client asks and retries.
func (h *WorkspaceHandler) respondReplaced(w http.ResponseWriter, ctrl *workspace.Controller, applied bool, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if !applied {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "confirmation_required",
			Message: "unsaved changes will be lost; resend with confirm set to true",
		})
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// HandleCode replaces the buffer. Allowed while a run is in flight.
//
// HTTP: PUT /api/workspace/code {"code": "..."}
func (h *WorkspaceHandler) HandleCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.SetCode(*req.Code)
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// HandleSidebar opens or closes the saved-workspaces panel.
//
// HTTP: POST /api/workspace/sidebar {"open": true}
func (h *WorkspaceHandler) HandleSidebar(w http.ResponseWriter, r *http.Request) {
	var req sidebarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.ToggleSidebar(req.Open)
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// HandleLogout signs out from inside the editor and tells the client where
// to go. The sign-out result does not change the answer.
//
// HTTP: POST /api/workspace/logout
func (h *WorkspaceHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	route := ctrl.Logout(r.Context(), auth.TokenFromRequest(r))
	userID, _ := auth.UserIDFromContext(r.Context())
	h.registry.Drop(userID)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"redirect": route})
}

// controller returns the caller's Controller, or writes a 401 and returns
// false when the request carries no session.
func (h *WorkspaceHandler) controller(w http.ResponseWriter, r *http.Request) (*workspace.Controller, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated("not signed in"))
		return nil, false
	}
	return h.registry.Get(userID), true
}
