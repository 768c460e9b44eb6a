package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jswell/mindq/internal/approval"
	"github.com/jswell/mindq/internal/classifier"
	"github.com/jswell/mindq/internal/executor"
	"github.com/jswell/mindq/internal/processor"
	"github.com/jswell/mindq/internal/queue"
	"github.com/jswell/mindq/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Reverter abstracts the executor's revert path for the API layer.
type Reverter interface {
	Revert(ctx context.Context, itemID string) error
}

// AppDeps holds everything the HTTP surface needs.
type AppDeps struct {
	Store     *storage.Store
	Queue     *queue.Queue
	Processor *processor.Processor
	Approval  *approval.Handler
	Reverter  Reverter
	Token     string
}

// NewAppHandler builds the mindq HTTP API.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/thoughts", handleCreateThought(deps))
		r.Get("/thoughts", handleListThoughts(deps))
		r.Get("/thoughts/{id}", handleGetThought(deps))
		r.Delete("/thoughts/{id}", handleDeleteThought(deps))
		r.Post("/thoughts/{id}/process", handleProcessThought(deps))
		r.Post("/thoughts/process", handleProcessBatch(deps))

		r.Get("/queue", handleListQueue(deps))
		r.Get("/queue/{id}", handleGetQueueItem(deps))
		r.Post("/queue/{id}/approve", handleApprove(deps))
		r.Post("/queue/{id}/reject", handleReject(deps))
		r.Post("/queue/{id}/revert", handleRevert(deps))

		r.Get("/tasks", handleListTasks(deps))
		r.Get("/projects", handleListProjects(deps))
		r.Get("/moods", handleListMoods(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createThoughtRequest struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

func handleCreateThought(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createThoughtRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		now := time.Now().UTC()
		thought := storage.Thought{
			ID:        uuid.New().String(),
			Text:      req.Text,
			Tags:      req.Tags,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := deps.Store.CreateThought(thought); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save thought: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(thought)
	}
}

func handleListThoughts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		thoughts, err := deps.Store.ListThoughts(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list thoughts: %v", err)
			return
		}
		if thoughts == nil {
			thoughts = []storage.Thought{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(thoughts)
	}
}

func handleGetThought(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thought, err := deps.Store.GetThought(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "thought not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get thought: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(thought)
	}
}

func handleDeleteThought(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteThought(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "thought not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete thought: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleProcessThought(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueItemID, err := deps.Processor.ProcessThought(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, processor.ErrThoughtNotFound):
			httpError(w, http.StatusNotFound, "not_found", "thought not found")
			return
		case errors.Is(err, classifier.ErrCredentialMissing):
			httpError(w, http.StatusPreconditionFailed, "credential_missing", "no classifier API key configured")
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "classifier_error", "processing failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"queue_item_id": queueItemID,
			"status":        string(queue.StatusAwaitingApproval),
		})
	}
}

type processBatchRequest struct {
	ThoughtIDs []string `json:"thought_ids"`
}

func handleProcessBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req processBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.ThoughtIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "thought_ids is required")
			return
		}

		result := deps.Processor.ProcessMultiple(r.Context(), req.ThoughtIDs)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleListQueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		items, err := deps.Queue.List(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list queue: %v", err)
			return
		}
		if items == nil {
			items = []queue.Item{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}
}

func handleGetQueueItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Queue.Get(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "queue item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get queue item: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(item)
	}
}

type approveRequest struct {
	ActionIDs []string `json:"action_ids"`
}

// guardCode maps an approval guard rejection to a stable API code.
func guardCode(err error) (string, bool) {
	switch {
	case errors.Is(err, approval.ErrAlreadyExecuting):
		return "already_executing", true
	case errors.Is(err, approval.ErrAlreadyProcessing):
		return "already_processing", true
	case errors.Is(err, approval.ErrAlreadyCompleted):
		return "already_completed", true
	case errors.Is(err, approval.ErrAlreadyProcessed):
		return "already_processed", true
	}
	return "", false
}

func handleApprove(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req approveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		summary, err := deps.Approval.ApproveAndExecute(r.Context(), id, req.ActionIDs)
		if code, ok := guardCode(err); ok {
			httpError(w, http.StatusConflict, code, "%v", err)
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "queue item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "approval failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

func handleReject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Approval.Reject(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "queue item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusConflict, "invalid_state", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": string(queue.StatusCancelled)})
	}
}

func handleRevert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Reverter.Revert(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "queue item not found")
			return
		case errors.Is(err, executor.ErrNotCompleted):
			httpError(w, http.StatusConflict, "not_completed", "%v", err)
			return
		case errors.Is(err, executor.ErrNotRevertible):
			httpError(w, http.StatusConflict, "not_revertible", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "revert failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": string(queue.StatusReverted)})
	}
}

func handleListTasks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		tasks, err := deps.Store.ListTasks(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tasks: %v", err)
			return
		}
		if tasks == nil {
			tasks = []storage.Task{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tasks)
	}
}

func handleListProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		projects, err := deps.Store.ListProjects(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		if projects == nil {
			projects = []storage.Project{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(projects)
	}
}

func handleListMoods(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		moods, err := deps.Store.ListMoods(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list moods: %v", err)
			return
		}
		if moods == nil {
			moods = []storage.Mood{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(moods)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
