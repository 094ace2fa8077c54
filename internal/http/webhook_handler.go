package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"reelscript/internal/billing"
	"reelscript/internal/metrics"
)

const (
	maxWebhookBodyBytes int64 = 1 << 20
	billingSignatureHeader    = "Stripe-Signature"
)

// WebhookHandler receives billing provider events.
type WebhookHandler struct {
	billing *billing.Reconciler
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(reconciler *billing.Reconciler, recorder metrics.Recorder, logger *slog.Logger) *WebhookHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &WebhookHandler{billing: reconciler, metrics: recorder, logger: logger}
}

// Billing handles POST /webhook/billing. The raw body is verified against the signature header
// before anything is applied. Provider outages answer 503 so the provider redelivers.
func (h *WebhookHandler) Billing(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.metrics.RecordWebhookEvent("unknown", "rejected")
		writeError(w, http.StatusRequestEntityTooLarge, kindPayloadTooLarge, "payload too large")
		return
	}

	result, err := h.billing.HandleWebhook(r.Context(), payload, r.Header.Get(billingSignatureHeader))
	if err != nil {
		eventType := string(result.Type)
		if eventType == "" {
			eventType = "unknown"
		}
		switch {
		case errors.Is(err, billing.ErrWebhookSignature):
			h.metrics.RecordWebhookEvent(eventType, "rejected")
			h.logger.Warn("billing webhook signature rejected",
				"client_ip", clientIPFromRequest(r),
				"error", err,
			)
		case errors.Is(err, billing.ErrMalformedEvent):
			h.metrics.RecordWebhookEvent(eventType, "rejected")
			h.logger.Warn("billing webhook malformed", "error", err)
		default:
			h.metrics.RecordWebhookEvent(eventType, "failed")
			h.logger.Error("billing webhook failed", "event_id", result.EventID, "type", eventType, "error", err)
		}
		handleServiceError(w, err, h.logger)
		return
	}

	h.metrics.RecordWebhookEvent(string(result.Type), result.Outcome)
	h.logger.Info("billing webhook processed",
		"event_id", result.EventID,
		"type", result.Type,
		"outcome", result.Outcome,
	)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
