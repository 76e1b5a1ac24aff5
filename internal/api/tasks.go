package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// createTaskRequest is the POST /tasks body, validated against
// commandAPISpec before this type is ever decoded.
type createTaskRequest struct {
	RepositoryID string  `json:"repo_id"`
	UserRequest  string  `json:"user_request"`
	ParentTaskID *string `json:"parent_task_id,omitempty"`
}

type rejectRequest struct {
	Feedback string `json:"feedback"`
}

// CreateTask handles POST /tasks: creates a pending root or child task
// and hands it to the DAG Scheduler's dispatch path immediately.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.store.GetRepository(r.Context(), req.RepositoryID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up repository")
		return
	}

	now := time.Now()
	task := &model.Task{
		ID:           newTaskID(),
		ParentTaskID: req.ParentTaskID,
		RepositoryID: req.RepositoryID,
		UserRequest:  req.UserRequest,
		Status:       model.TaskStatusPending,
		Heartbeat:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.CreateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	if h.scheduler != nil {
		h.scheduler.Enqueue(task.ID)
	}

	writeJSON(w, http.StatusCreated, task)
}

// ListTasks handles GET /tasks?repo_id=&parent_task_id=.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := storage.TaskFilter{
		RepositoryID: r.URL.Query().Get("repo_id"),
		ParentTaskID: r.URL.Query().Get("parent_task_id"),
	}
	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /tasks/{id}, embedding the task's agent runs per
// §6.1's "Task with embedded runs."
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	runs, err := h.store.ListRuns(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list task runs")
		return
	}
	task.Runs = runs
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /tasks/{id}: per §8's cancel-cascade
// scenario, "delete" fails the task and its descendants in place
// rather than removing rows, so their history survives the API's
// stream and audit surface.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetTask(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	if err := h.scheduler.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveTask handles POST /tasks/{id}/approve.
func (h *Handler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Approve(r.Context(), id); err != nil {
		h.writeTransitionError(w, err)
		return
	}
	if h.scheduler != nil {
		h.scheduler.Enqueue(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectTask handles POST /tasks/{id}/reject.
func (h *Handler) RejectTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.Reject(r.Context(), id, req.Feedback); err != nil {
		h.writeTransitionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseTask handles POST /tasks/{id}/pause.
func (h *Handler) PauseTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Pause(r.Context(), id); err != nil {
		h.writeTransitionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeTask handles POST /tasks/{id}/resume.
func (h *Handler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Resume(r.Context(), id); err != nil {
		h.writeTransitionError(w, err)
		return
	}
	if h.scheduler != nil {
		h.scheduler.Enqueue(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeTransitionError maps an Engine transition error to the status
// codes §6.1's error-condition column names: a missing task is 404,
// every other transition failure (wrong precondition status, terminal
// task, not paused) is 409.
func (h *Handler) writeTransitionError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeError(w, http.StatusConflict, err.Error())
}
