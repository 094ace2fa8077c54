package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"reelscript/internal/billing"
	"reelscript/internal/metrics"
	"reelscript/internal/script"
)

// ScriptGenerator produces scripts from validated forms.
type ScriptGenerator interface {
	Generate(ctx context.Context, form script.Form, premium bool) (script.Result, error)
}

// GenerateHandler serves POST /generate.
type GenerateHandler struct {
	generator ScriptGenerator
	billing   *billing.Reconciler
	quota     *GenerationQuota
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewGenerateHandler creates a GenerateHandler. A nil generator answers 503 and a nil quota
// leaves generation unmetered.
func NewGenerateHandler(generator ScriptGenerator, reconciler *billing.Reconciler, quota *GenerationQuota, recorder metrics.Recorder, logger *slog.Logger) *GenerateHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &GenerateHandler{generator: generator, billing: reconciler, quota: quota, metrics: recorder, logger: logger}
}

// Generate handles POST /generate.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		writeError(w, http.StatusServiceUnavailable, kindMisconfiguredProvider, "script generation is not configured")
		return
	}
	user := UserFromContext(r.Context())

	var form script.Form
	if err := decodeJSONBody(w, r, &form, false); err != nil {
		writeJSONError(w, err)
		return
	}

	if err := form.Validate(); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	premium, err := h.billing.Entitled(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	if form.UsesStyleMimicry() && !premium {
		handleServiceError(w, script.ErrPremiumRequired, h.logger)
		return
	}

	// Only requests that will reach the model count against the allowance.
	if h.quota != nil && !h.quota.Take(w, user.ID.String(), premium) {
		return
	}

	start := time.Now()
	result, err := h.generator.Generate(r.Context(), form, premium)
	h.metrics.RecordGeneration(time.Since(start), err)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
