package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"reelscript/internal/auth"
	"reelscript/internal/billing"
	"reelscript/internal/script"
)

// Machine-readable error kinds returned in the "kind" field.
const (
	kindInvalidRequest        = "invalid_request"
	kindInvalidCredential     = "invalid_credential"
	kindUnauthenticated       = "unauthenticated"
	kindSessionExpired        = "session_expired"
	kindEmailNotAllowed       = "email_not_allowed"
	kindEmailNotVerified      = "email_not_verified"
	kindDuplicateEmail        = "duplicate_email"
	kindProviderUnavailable   = "provider_unavailable"
	kindMisconfiguredProvider = "misconfigured_provider"
	kindEntitlementMismatch   = "entitlement_mismatch"
	kindWebhookSignature      = "webhook_signature_invalid"
	kindMalformedEvent        = "malformed_event"
	kindCheckoutNotPaid       = "checkout_not_paid"
	kindNoBillingAccount      = "no_billing_account"
	kindSubscriptionConflict  = "subscription_conflict"
	kindNotFound              = "not_found"
	kindInvalidForm           = "invalid_form"
	kindPremiumRequired       = "premium_required"
	kindGenerationFailed      = "generation_failed"
	kindRateLimited           = "rate_limited"
	kindPayloadTooLarge       = "payload_too_large"
	kindInternal              = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: message, Kind: kind})
}

type errorMapping struct {
	target error
	status int
	kind   string
	detail bool
}

// errorMappings is checked in order. detail exposes the wrapped message instead of the sentinel text.
var errorMappings = []errorMapping{
	{target: auth.ErrSessionExpired, status: http.StatusUnauthorized, kind: kindSessionExpired},
	{target: auth.ErrUnauthenticated, status: http.StatusUnauthorized, kind: kindUnauthenticated},
	{target: auth.ErrInvalidCredential, status: http.StatusUnauthorized, kind: kindInvalidCredential},
	{target: auth.ErrEmailNotAllowed, status: http.StatusForbidden, kind: kindEmailNotAllowed},
	{target: auth.ErrEmailNotVerified, status: http.StatusForbidden, kind: kindEmailNotVerified},
	{target: auth.ErrDuplicateEmail, status: http.StatusConflict, kind: kindDuplicateEmail},
	{target: auth.ErrProviderUnavailable, status: http.StatusServiceUnavailable, kind: kindProviderUnavailable},
	{target: auth.ErrMisconfiguredProvider, status: http.StatusServiceUnavailable, kind: kindMisconfiguredProvider},
	{target: billing.ErrEntitlementMismatch, status: http.StatusForbidden, kind: kindEntitlementMismatch},
	{target: billing.ErrWebhookSignature, status: http.StatusBadRequest, kind: kindWebhookSignature},
	{target: billing.ErrMalformedEvent, status: http.StatusBadRequest, kind: kindMalformedEvent},
	{target: billing.ErrMissingCheckoutID, status: http.StatusBadRequest, kind: kindInvalidRequest},
	{target: billing.ErrCheckoutNotPaid, status: http.StatusPaymentRequired, kind: kindCheckoutNotPaid},
	{target: billing.ErrNoBillingAccount, status: http.StatusNotFound, kind: kindNoBillingAccount},
	{target: billing.ErrSubscriptionConflict, status: http.StatusConflict, kind: kindSubscriptionConflict},
	{target: billing.ErrNotFound, status: http.StatusNotFound, kind: kindNotFound},
	{target: billing.ErrProviderUnavailable, status: http.StatusServiceUnavailable, kind: kindProviderUnavailable},
	{target: billing.ErrMisconfiguredProvider, status: http.StatusServiceUnavailable, kind: kindMisconfiguredProvider},
	{target: script.ErrInvalidForm, status: http.StatusBadRequest, kind: kindInvalidForm, detail: true},
	{target: script.ErrPremiumRequired, status: http.StatusForbidden, kind: kindPremiumRequired},
	{target: script.ErrGenerationFailed, status: http.StatusBadGateway, kind: kindGenerationFailed},
}

// handleServiceError maps domain errors onto a status and kind. Anything unrecognized is logged
// and reported as a bare 500.
func handleServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.target.Error()
		if m.detail {
			message = err.Error()
		}
		if m.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "30")
		}
		writeError(w, m.status, m.kind, message)
		return
	}

	logger.Error("service error", "error", err)
	writeError(w, http.StatusInternalServerError, kindInternal, "unexpected error")
}

const maxJSONBodyBytes int64 = 256 << 10

var errPayloadTooLarge = errors.New("payload too large")

// decodeJSONBody decodes a bounded JSON body. An empty body leaves dst untouched when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	limited := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() {
		_ = limited.Close()
	}()

	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w (max %d bytes)", errPayloadTooLarge, maxErr.Limit)
		}
		return err
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, kindPayloadTooLarge, "payload too large")
		return
	}
	// Return generic message to avoid leaking internal JSON parsing details
	writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid request body")
}
