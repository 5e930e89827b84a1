package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stocksync/stocksync-go/internal/middleware"
	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
	"github.com/stocksync/stocksync-go/internal/service"
)

const maxBodyBytes = 10 << 20 // 10MB

// SyncHandler exposes the sync engine over HTTP: push, pull, conflict
// listing and resolution, and the orchestrator trigger.
type SyncHandler struct {
	push         *service.PushService
	pull         *service.PullService
	conflicts    *service.ConflictService
	orchestrator *service.Orchestrator
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(push *service.PushService, pull *service.PullService, conflicts *service.ConflictService, orchestrator *service.Orchestrator) *SyncHandler {
	return &SyncHandler{push: push, pull: pull, conflicts: conflicts, orchestrator: orchestrator}
}

// HandlePush handles POST /api/v1/sync/push requests.
func (h *SyncHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req model.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	resp, err := h.push.Push(r.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, validationResponse(verr.Fields))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("sync push failed, retry the batch"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandlePull handles GET /api/v1/sync/pull requests.
func (h *SyncHandler) HandlePull(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var since *time.Time
	if raw := query.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("since must be an ISO-8601 timestamp"))
			return
		}
		since = &t
	}

	tables := query["tables[]"]
	if len(tables) == 0 {
		tables = query["tables"]
	}

	resp, err := h.pull.Changes(r.Context(), since, tables)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownTable) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse(err.Error()))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("sync pull failed"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleResolve handles POST /api/v1/sync/resolve requests.
func (h *SyncHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req model.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	if !model.IsSyncTable(req.Conflict.Table) || req.Conflict.UUID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse("conflict.table and conflict.uuid are required"))
		return
	}

	resolvedBy := "api"
	if t, ok := middleware.TokenFromContext(r.Context()); ok {
		resolvedBy = t.Name
	}

	err := h.conflicts.Resolve(r.Context(), req.Conflict.Table, req.Conflict.UUID, req.Resolution, resolvedBy)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResolution):
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse(err.Error()))
		case errors.Is(err, repository.ErrConflictNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse("no pending conflict for this record"))
		case errors.Is(err, repository.ErrConflictNotPending):
			writeJSON(w, http.StatusConflict, errorResponse("conflict already resolved"))
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse("conflict resolution failed"))
		}
		return
	}

	writeJSON(w, http.StatusOK, model.ResolveResponse{
		Success: true,
		Message: "conflict resolved using " + req.Resolution + " version",
	})
}

// HandleListConflicts handles GET /api/v1/sync/conflicts requests.
func (h *SyncHandler) HandleListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.conflicts.ListPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("listing conflicts failed"))
		return
	}
	if conflicts == nil {
		conflicts = []model.SyncConflict{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"conflicts": conflicts,
		"timestamp": time.Now().UTC(),
	})
}

// HandleConflictDiff handles GET /api/v1/sync/conflicts/{id}/diff requests.
func (h *SyncHandler) HandleConflictDiff(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid conflict id"))
		return
	}

	diff, err := h.conflicts.Diff(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrConflictNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse("conflict not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("computing diff failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "diff": diff})
}

// HandleRun handles POST /api/v1/sync requests: report pre-sync counts
// and trigger the background cycle without waiting for it.
func (h *SyncHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	resp, err := h.orchestrator.Run(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("sync trigger failed"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
