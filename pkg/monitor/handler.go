package monitor

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/manager"
)

// Handler serves the read-only monitoring API.
type Handler struct {
	storage core.Storage
	manager *manager.Manager
	stats   StatsStorage
	logger  *slog.Logger
}

// NewHandler creates the monitoring API handler. stats may be nil, in which
// case the stats history endpoint returns 404.
func NewHandler(storage core.Storage, mgr *manager.Manager, stats StatsStorage, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		storage: storage,
		manager: mgr,
		stats:   stats,
		logger:  logger,
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/queue", h.handleQueue).Methods(http.MethodGet)
	r.HandleFunc("/api/fleet", h.handleFleet).Methods(http.MethodGet)
	r.HandleFunc("/api/workers", h.handleWorkers).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", h.handleJob).Methods(http.MethodGet)
	if h.stats != nil {
		r.HandleFunc("/api/stats/history", h.handleStatsHistory).Methods(http.MethodGet)
	}
	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.storage.QueueStatus(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	status, err := h.storage.QueueStatus(r.Context())
	if err != nil {
		h.logger.Error("queue status query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleFleet(w http.ResponseWriter, r *http.Request) {
	health, err := h.storage.FleetHealth(r.Context())
	if err != nil {
		h.logger.Error("fleet health query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

func (h *Handler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.storage.ListWorkers(r.Context())
	if err != nil {
		h.logger.Error("worker list query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, workers)
}

// jobView is the job detail payload: the live status report plus, for
// terminal jobs, the aggregate result.
type jobView struct {
	Job      *core.RenderJob  `json:"job"`
	Position int              `json:"position"`
	ETA      string           `json:"eta,omitempty"`
	Result   *core.TestResult `json:"result,omitempty"`
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	report, err := h.manager.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("job status query failed", "job_id", jobID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	view := jobView{Job: report.Job, Position: report.Position}
	if report.ETA > 0 {
		view.ETA = report.ETA.String()
	}
	if report.Job.Status.Terminal() {
		result, err := h.manager.GetResult(r.Context(), jobID)
		if err == nil {
			view.Result = result
		} else if !errors.Is(err, core.ErrResultNotFound) {
			h.logger.Error("result query failed", "job_id", jobID, "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}
	var until time.Time
	if raw := r.URL.Query().Get("until"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "until must be RFC 3339")
			return
		}
		until = parsed
	}

	stats, err := h.stats.GetStatsHistory(r.Context(), since, until)
	if err != nil {
		h.logger.Error("stats history query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
