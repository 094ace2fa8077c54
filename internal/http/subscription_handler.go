package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"reelscript/internal/billing"
	"reelscript/internal/metrics"
)

// SubscriptionHandler exposes checkout, verification and entitlement checks.
type SubscriptionHandler struct {
	billing *billing.Reconciler
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(reconciler *billing.Reconciler, recorder metrics.Recorder, logger *slog.Logger) *SubscriptionHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &SubscriptionHandler{billing: reconciler, metrics: recorder, logger: logger}
}

// CreateCheckout handles POST /subscription/create-checkout.
func (h *SubscriptionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	checkoutURL, err := h.billing.CreateCheckout(r.Context(), user.ID, user.Email)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": checkoutURL})
}

type verifySessionRequest struct {
	SessionID string `json:"session_id"`
}

// VerifySession handles POST /subscription/verify-session, the pull path after a checkout redirect.
func (h *SubscriptionHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req verifySessionRequest
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		writeJSONError(w, err)
		return
	}

	sub, err := h.billing.VerifyCheckout(r.Context(), user.ID, strings.TrimSpace(req.SessionID))
	if err != nil {
		h.metrics.RecordCheckoutVerification(verificationOutcome(err))
		if errors.Is(err, billing.ErrEntitlementMismatch) {
			h.logger.Warn("checkout claimed by another user",
				"user_id", user.ID,
				"checkout_session", req.SessionID,
				"client_ip", clientIPFromRequest(r),
			)
		}
		handleServiceError(w, err, h.logger)
		return
	}

	h.metrics.RecordCheckoutVerification("verified")
	writeJSON(w, http.StatusOK, h.billing.Snapshot(sub))
}

type checkRequest struct {
	Refresh bool `json:"refresh"`
}

// Check handles POST /subscription/check. The body is optional.
func (h *SubscriptionHandler) Check(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req checkRequest
	if err := decodeJSONBody(w, r, &req, true); err != nil {
		writeJSONError(w, err)
		return
	}

	snapshot, err := h.billing.Check(r.Context(), user.ID, req.Refresh)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// CustomerPortal handles POST /subscription/customer-portal.
func (h *SubscriptionHandler) CustomerPortal(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	portalURL, err := h.billing.CustomerPortal(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": portalURL})
}

func verificationOutcome(err error) string {
	switch {
	case errors.Is(err, billing.ErrEntitlementMismatch):
		return "mismatch"
	case errors.Is(err, billing.ErrCheckoutNotPaid):
		return "unpaid"
	case errors.Is(err, billing.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}
