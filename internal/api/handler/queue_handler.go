package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/relaycore/smsqueue/internal/api/middleware"
	"github.com/relaycore/smsqueue/internal/domain"
	"github.com/relaycore/smsqueue/internal/service"
)

// QueueHandler handles the producer-facing queue endpoints.
type QueueHandler struct {
	svc       *service.QueueService
	canceller *service.Canceller
	logger    *zap.Logger
}

func NewQueueHandler(svc *service.QueueService, canceller *service.Canceller, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, canceller: canceller, logger: logger}
}

// Enqueue handles POST /api/v1/queues/{recipient}/{channel}/messages
//
// @Summary  Enqueue an ordered batch of messages for one recipient channel
// @Tags     queues
// @Accept   json
// @Produce  json
// @Param    recipient  path      string                true  "Recipient ID"
// @Param    channel    path      string                true  "Channel name"
// @Param    body       body      domain.EnqueueRequest true  "Ordered messages"
// @Success  201        {object}  map[string]any
// @Failure  409        {object}  map[string]string
// @Failure  422        {object}  map[string]string
// @Router   /api/v1/queues/{recipient}/{channel}/messages [post]
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recipient := chi.URLParam(r, "recipient")
	channel := chi.URLParam(r, "channel")

	entries, err := h.svc.Enqueue(r.Context(), recipient, channel, req)
	if err != nil {
		h.logger.Warn("enqueue failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("recipient_id", recipient),
			zap.String("channel", channel),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// Status handles GET /api/v1/queues/{recipient}/{channel}
//
// @Summary  Per-channel queue status counts
// @Tags     queues
// @Produce  json
// @Param    recipient  path      string  true  "Recipient ID"
// @Param    channel    path      string  true  "Channel name"
// @Success  200        {object}  domain.ChannelStatus
// @Router   /api/v1/queues/{recipient}/{channel} [get]
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context(), chi.URLParam(r, "recipient"), chi.URLParam(r, "channel"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// GetEntry handles GET /api/v1/entries/{id}
//
// @Summary  Fetch one queue entry by ID
// @Tags     queues
// @Produce  json
// @Param    id   path      string  true  "Entry UUID"
// @Success  200  {object}  domain.QueueEntry
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/entries/{id} [get]
func (h *QueueHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// CancelRecipient handles DELETE /api/v1/recipients/{recipient}/queue
//
// @Summary  Cancel all pending messages for a recipient (opt-out)
// @Tags     queues
// @Produce  json
// @Param    recipient  path      string  true  "Recipient ID"
// @Success  200        {object}  map[string]int64
// @Router   /api/v1/recipients/{recipient}/queue [delete]
func (h *QueueHandler) CancelRecipient(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	if recipient == "" {
		mapError(w, domain.ErrInvalidRecipient)
		return
	}

	n, err := h.canceller.CancelRecipient(r.Context(), recipient)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"cancelled": n})
}
