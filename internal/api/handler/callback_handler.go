package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/relaycore/smsqueue/internal/api/middleware"
	"github.com/relaycore/smsqueue/internal/domain"
	"github.com/relaycore/smsqueue/internal/service"
)

// SignatureHeader carries the gateway's hex-encoded HMAC-SHA256 of the raw
// request body, keyed with the shared webhook secret.
const SignatureHeader = "X-Webhook-Signature"

// DeliveryCallback is the JSON body the gateway posts when a message's
// delivery outcome is known.
type DeliveryCallback struct {
	MessageRef   string `json:"messageRef"`
	Outcome      string `json:"outcome"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// CallbackHandler receives delivery-outcome webhooks from the SMS gateway.
// Signature verification happens before any processing; a bad signature is
// rejected with 401 and mutates nothing.
type CallbackHandler struct {
	reconciler *service.Reconciler
	secret     []byte
	logger     *zap.Logger
}

func NewCallbackHandler(reconciler *service.Reconciler, secret string, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler, secret: []byte(secret), logger: logger}
}

// Receive handles POST /api/v1/delivery/callback
//
// @Summary  Delivery outcome webhook from the SMS gateway
// @Tags     callbacks
// @Accept   json
// @Produce  json
// @Param    X-Webhook-Signature  header  string            true  "hex(HMAC-SHA256(body))"
// @Param    body                 body    DeliveryCallback  true  "Delivery outcome"
// @Success  200  {object}  map[string]string
// @Success  202  {object}  map[string]string  "Informational outcome, no state change"
// @Failure  401  {object}  map[string]string
// @Router   /api/v1/delivery/callback [post]
func (h *CallbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature verification failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr),
		)
		mapError(w, domain.ErrBadSignature)
		return
	}

	var cb DeliveryCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if cb.MessageRef == "" {
		respondError(w, http.StatusBadRequest, "messageRef is required")
		return
	}

	outcome := domain.Outcome(cb.Outcome)
	if err := h.reconciler.Reconcile(r.Context(), cb.MessageRef, outcome, cb.ErrorCode, cb.ErrorMessage); err != nil {
		h.logger.Error("reconcile failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("message_ref", cb.MessageRef),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	if !outcome.DrivesTransition() {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *CallbackHandler) verify(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
