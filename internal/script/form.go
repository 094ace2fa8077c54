package script

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLength          = 200
	maxDescriptionLength    = 2000
	maxFieldLength          = 500
	maxTones                = 10
	maxPreviousScripts      = 3
	maxPreviousScriptLength = 5000
)

var (
	// ErrInvalidForm is returned when the submitted form fails validation.
	ErrInvalidForm = errors.New("invalid script form")
	// ErrPremiumRequired is returned when a form uses a feature reserved for subscribers.
	ErrPremiumRequired = errors.New("premium subscription required")
	// ErrGenerationFailed is returned when the completion API call fails or returns nothing.
	ErrGenerationFailed = errors.New("script generation failed")
)

// ValidationError names the offending field so clients can point at it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidForm
}

func validationErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Form is the structured reel script request.
type Form struct {
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Length          Choice        `json:"length"`
	Language        Choice        `json:"language"`
	Tone            ToneSelection `json:"tone"`
	Structure       Choice        `json:"structure"`
	Hook            Choice        `json:"hook"`
	CTA             Choice        `json:"cta"`
	Goal            Choice        `json:"goal"`
	Audience        Choice        `json:"audience"`
	AudienceAge     string        `json:"audienceAge"`
	PreviousScripts []string      `json:"previousScripts,omitempty"`
}

// UsesStyleMimicry reports whether the form asks the model to copy previous scripts.
func (f Form) UsesStyleMimicry() bool {
	return len(f.PreviousScripts) > 0
}

// Validate trims the form in place and checks every field.
func (f *Form) Validate() error {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.AudienceAge = strings.TrimSpace(f.AudienceAge)
	f.Tone.Custom = strings.TrimSpace(f.Tone.Custom)

	if f.Description == "" {
		return validationErr("description", "is required")
	}
	if utf8.RuneCountInString(f.Description) > maxDescriptionLength {
		return validationErr("description", "must be at most %d characters", maxDescriptionLength)
	}
	if utf8.RuneCountInString(f.Title) > maxTitleLength {
		return validationErr("title", "must be at most %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(f.AudienceAge) > maxFieldLength {
		return validationErr("audienceAge", "must be at most %d characters", maxFieldLength)
	}

	fields := []struct {
		name      string
		choice    *Choice
		allowNone bool
	}{
		{name: "length", choice: &f.Length},
		{name: "language", choice: &f.Language},
		{name: "structure", choice: &f.Structure},
		{name: "hook", choice: &f.Hook},
		{name: "cta", choice: &f.CTA, allowNone: true},
		{name: "goal", choice: &f.Goal},
		{name: "audience", choice: &f.Audience},
	}
	for _, field := range fields {
		if err := validateChoice(field.name, field.choice, field.allowNone); err != nil {
			return err
		}
	}

	if err := validateTone(&f.Tone); err != nil {
		return err
	}

	if len(f.PreviousScripts) > maxPreviousScripts {
		return validationErr("previousScripts", "at most %d previous scripts are allowed", maxPreviousScripts)
	}
	scripts := make([]string, 0, len(f.PreviousScripts))
	for _, s := range f.PreviousScripts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if utf8.RuneCountInString(s) > maxPreviousScriptLength {
			return validationErr("previousScripts", "each script must be at most %d characters", maxPreviousScriptLength)
		}
		scripts = append(scripts, s)
	}
	f.PreviousScripts = scripts

	return nil
}

func validateChoice(name string, c *Choice, allowNone bool) error {
	c.Value = strings.TrimSpace(c.Value)
	switch c.Kind {
	case "", ChoiceAIChoose:
		*c = AIChoose()
	case ChoicePreset, ChoiceCustom:
		if c.Value == "" {
			return validationErr(name, "%s choice needs a value", c.Kind)
		}
		if utf8.RuneCountInString(c.Value) > maxFieldLength {
			return validationErr(name, "must be at most %d characters", maxFieldLength)
		}
	case ChoiceNone:
		if !allowNone {
			return validationErr(name, "cannot be left out")
		}
		c.Value = ""
	default:
		return validationErr(name, "unknown choice kind %q", c.Kind)
	}
	return nil
}

func validateTone(t *ToneSelection) error {
	if t.AIChoose {
		t.Presets = nil
		t.Custom = ""
		return nil
	}
	if len(t.Presets) > maxTones {
		return validationErr("tone", "at most %d tones are allowed", maxTones)
	}
	for _, preset := range t.Presets {
		if utf8.RuneCountInString(preset) > maxFieldLength {
			return validationErr("tone", "must be at most %d characters", maxFieldLength)
		}
	}
	if utf8.RuneCountInString(t.Custom) > maxFieldLength {
		return validationErr("tone", "must be at most %d characters", maxFieldLength)
	}
	return nil
}
