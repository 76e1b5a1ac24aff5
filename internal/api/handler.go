// Package api is the External API (§6.1): the HTTP command surface
// over the Task Engine, DAG Scheduler, and Event Bus, plus a
// server-sent-event and WebSocket stream of a task's event log.
// Grounded on internal/apiserver/task/handler.go's ServeMux
// method+path routing and internal/apiserver/server/common.go's
// Handler/writeJSON/writeError/generateID idiom.
package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netbuddy/taskforge/internal/engine"
	"github.com/netbuddy/taskforge/internal/eventbus"
	"github.com/netbuddy/taskforge/internal/logging"
	"github.com/netbuddy/taskforge/internal/scheduler"
	"github.com/netbuddy/taskforge/internal/storage"
)

// Handler is the API's entry point, holding every dependency its
// command endpoints need.
type Handler struct {
	store     storage.StateStore
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	bus       eventbus.EventBus
	logger    *logging.Logger
	validator *requestValidator
}

// NewHandler constructs a Handler.
func NewHandler(store storage.StateStore, eng *engine.Engine, sched *scheduler.Scheduler, bus eventbus.EventBus, logger *logging.Logger) *Handler {
	return &Handler{
		store:     store,
		engine:    eng,
		scheduler: sched,
		bus:       bus,
		logger:    logger,
		validator: newRequestValidator(logger),
	}
}

// Router builds the full route table per §6.1's Command API table.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /tasks", h.CreateTask)
	mux.HandleFunc("GET /tasks", h.ListTasks)
	mux.HandleFunc("GET /tasks/{id}", h.GetTask)
	mux.HandleFunc("DELETE /tasks/{id}", h.DeleteTask)
	mux.HandleFunc("POST /tasks/{id}/approve", h.ApproveTask)
	mux.HandleFunc("POST /tasks/{id}/reject", h.RejectTask)
	mux.HandleFunc("POST /tasks/{id}/pause", h.PauseTask)
	mux.HandleFunc("POST /tasks/{id}/resume", h.ResumeTask)

	mux.HandleFunc("GET /files/tree", h.FilesTree)

	// The stream endpoints bypass the OpenAPI validation middleware
	// below (there is no request body to validate, and a WebSocket
	// upgrade must not be wrapped by a handler that reads the body).
	top := http.NewServeMux()
	top.HandleFunc("GET /stream/task/{id}", h.StreamTaskSSE)
	top.HandleFunc("GET /ws/task/{id}", h.StreamTaskWS)
	top.Handle("/", corsMiddleware(h.validator.middleware(mux)))

	return top
}

// Health reports liveness for load balancers and local smoke checks.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func newTaskID() string { return uuid.NewString() }

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
