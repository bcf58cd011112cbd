package handler

import (
	"net/http"

	"github.com/relaycore/smsqueue/internal/repository"
)

// SnapshotHandler serves a human-readable JSON snapshot of queue state
// across all recipients. Raw Prometheus metrics (counters) are available at
// /metrics via promhttp.Handler and are separate from this endpoint.
type SnapshotHandler struct {
	repo repository.QueueRepository
}

func NewSnapshotHandler(repo repository.QueueRepository) *SnapshotHandler {
	return &SnapshotHandler{repo: repo}
}

// GetSnapshot handles GET /api/v1/snapshot
//
// @Summary  Live entry counts by status across all queues
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  domain.ChannelStatus
// @Router   /api/v1/snapshot [get]
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	status, err := h.repo.GlobalStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read queue state")
		return
	}
	respondJSON(w, http.StatusOK, status)
}
