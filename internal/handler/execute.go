package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/executor"
	"github.com/sakif/nalar/internal/explainer"
)

// RunnerStatus is the body of the runner's health route.
const RunnerStatus = "Nalar runner is running!"

// ExecuteHandler serves the runner backend: code execution and explanations.
type ExecuteHandler struct {
	exec    executor.Executor
	explain explainer.Explainer
	logger  *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(exec executor.Executor, explain explainer.Explainer, logger *slog.Logger) *ExecuteHandler {
	if explain == nil {
		explain = explainer.Unconfigured{}
	}
	return &ExecuteHandler{
		exec:    exec,
		explain: explain,
		logger:  logger,
	}
}

type runRequest struct {
	Code string `json:"code" validate:"required,max=100000"`
}

type runResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Duration int64  `json:"duration"` // milliseconds
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

// HandleStatus is the health check.
//
// HTTP: GET /
func (h *ExecuteHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": RunnerStatus})
}

// HandleRun executes a Python program.
//
// HTTP: POST /run {"code": "..."}
//
// A program that fails is still a 200: its traceback is in stderr and its
// exit code in exitCode. Only a broken sandbox is a 500.
func (h *ExecuteHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "invalid run request", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	result, err := h.exec.Execute(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, executor.ErrEmptyCode) {
			writeError(w, apperror.ValidationFailed("code", "code is required"))
			return
		}
		h.logger.ErrorContext(r.Context(), "code execution failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "internal server error during execution",
		})
		return
	}

	h.logger.InfoContext(r.Context(), "code executed",
		slog.Int("exitCode", result.ExitCode),
		slog.Duration("duration", result.Duration),
	)
	writeJSON(w, http.StatusOK, runResponse{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Duration: result.Duration.Milliseconds(),
	})
}

// HandleExplain returns a Markdown explanation of a failing program.
//
// HTTP: POST /explain {"code": "..."}
func (h *ExecuteHandler) HandleExplain(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	text, err := h.explain.Explain(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, explainer.ErrNotConfigured) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Error:   "unavailable",
				Message: "AI explanations are not configured on this runner",
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "explanation failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "upstream_error",
			Message: "the AI model did not return an explanation",
		})
		return
	}

	writeJSON(w, http.StatusOK, explainResponse{Explanation: text})
}
