package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/nudge/internal/chat"
	"github.com/hyperengineering/nudge/internal/store"
	"github.com/hyperengineering/nudge/internal/tasks"
	"github.com/hyperengineering/nudge/internal/transport"
	"github.com/hyperengineering/nudge/internal/types"
	"github.com/hyperengineering/nudge/internal/validation"
)

// Pinger reports store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TriggerCounter reports pending one-shot reminders.
type TriggerCounter interface {
	Pending() int
}

// Handler implements the API handlers
type Handler struct {
	uow      store.UnitOfWork
	pinger   Pinger
	triggers TriggerCounter
	chat     *chat.Handler
	tasks    *tasks.Service
	apiKey   string
	version  string
}

// NewHandler creates a new Handler. The SQLite store serves as both unit
// of work and pinger.
func NewHandler(s *store.SQLiteStore, triggers TriggerCounter, c *chat.Handler, svc *tasks.Service, apiKey, version string) *Handler {
	return &Handler{
		uow:      s,
		pinger:   s,
		triggers: triggers,
		chat:     c,
		tasks:    svc,
		apiKey:   apiKey,
		version:  version,
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	PendingTriggers int    `json:"pending_triggers"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	resp := HealthResponse{Status: "healthy", Version: h.version}
	if h.triggers != nil {
		resp.PendingTriggers = h.triggers.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

// MessageRequest is an inbound chat message delivered over HTTP.
type MessageRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	ChatID int64  `json:"chat_id" validate:"required"`
	Text   string `json:"text" validate:"required,max=4000"`
}

// PostMessage handles POST /api/v1/messages. The reply is returned in the
// response instead of being sent to the chat.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	reply := h.chat.Respond(r.Context(), transport.Inbound{
		UserID: req.UserID,
		ChatID: req.ChatID,
		Text:   req.Text,
	})
	writeJSON(w, http.StatusOK, reply)
}

// ListTasks handles GET /api/v1/users/{userID}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	open, err := h.tasks.ListOpen(r.Context(), userID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if open == nil {
		open = []types.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": open})
}

// CompleteTask handles POST /api/v1/users/{userID}/tasks/{taskID}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	res, err := h.tasks.Complete(r.Context(), userID, chi.URLParam(r, "taskID"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelRequest is the optional body of the cancel endpoint.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CancelTask handles POST /api/v1/users/{userID}/tasks/{taskID}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
			return
		}
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	task, err := h.tasks.Cancel(r.Context(), userID, chi.URLParam(r, "taskID"), req.Reason)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// PostponeRequest is the body of the postpone endpoint.
type PostponeRequest struct {
	Days int `json:"days" validate:"required,gte=1,lte=365"`
}

// PostponeTask handles POST /api/v1/users/{userID}/tasks/{taskID}/postpone
func (h *Handler) PostponeTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	var req PostponeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	task, err := h.tasks.Postpone(r.Context(), userID, chi.URLParam(r, "taskID"), req.Days)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Effectiveness handles GET /api/v1/users/{userID}/effectiveness
func (h *Handler) Effectiveness(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	var eff *types.ReminderEffectiveness
	err := h.uow.Do(r.Context(), func(tx *store.Tx) error {
		var err error
		eff, err = tx.GetEffectiveness(r.Context(), userID)
		return err
	})
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

func userParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "userID must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
