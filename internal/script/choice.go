package script

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChoiceKind tags how a form field was filled in.
type ChoiceKind string

const (
	// ChoiceAIChoose leaves the field to the model.
	ChoiceAIChoose ChoiceKind = "ai"
	// ChoicePreset selects one of the options offered by the client.
	ChoicePreset ChoiceKind = "preset"
	// ChoiceCustom carries free text typed by the user.
	ChoiceCustom ChoiceKind = "custom"
	// ChoiceNone explicitly opts out. Only the call to action accepts it.
	ChoiceNone ChoiceKind = "none"
)

// Choice is a form field that is either a preset, custom text, left to the model, or opted out.
type Choice struct {
	Kind  ChoiceKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// AIChoose returns a choice left to the model.
func AIChoose() Choice { return Choice{Kind: ChoiceAIChoose} }

// Preset returns a preset choice.
func Preset(value string) Choice { return Choice{Kind: ChoicePreset, Value: value} }

// Custom returns a custom choice.
func Custom(text string) Choice { return Choice{Kind: ChoiceCustom, Value: text} }

// NoChoice returns an explicit opt-out.
func NoChoice() Choice { return Choice{Kind: ChoiceNone} }

// UnmarshalJSON accepts the tagged object form. A missing field or an object without a kind
// means the model chooses.
func (c *Choice) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	kind := ChoiceKind(strings.ToLower(strings.TrimSpace(raw.Kind)))
	switch kind {
	case "":
		kind = ChoiceAIChoose
	case ChoiceAIChoose, ChoicePreset, ChoiceCustom, ChoiceNone:
	default:
		return fmt.Errorf("unknown choice kind %q", raw.Kind)
	}

	*c = Choice{Kind: kind, Value: strings.TrimSpace(raw.Value)}
	return nil
}

// Text returns the user-facing value and whether the field carries one.
func (c Choice) Text() (string, bool) {
	switch c.Kind {
	case ChoicePreset, ChoiceCustom:
		return c.Value, c.Value != ""
	default:
		return "", false
	}
}

// ToneSelection is the tone field: left to the model, or a set of presets plus optional custom text.
type ToneSelection struct {
	AIChoose bool     `json:"aiChoose"`
	Presets  []string `json:"presets,omitempty"`
	Custom   string   `json:"custom,omitempty"`
}

// Tones lists the selected tones in order, custom last. It is empty when the model chooses.
func (t ToneSelection) Tones() []string {
	if t.AIChoose {
		return nil
	}
	tones := make([]string, 0, len(t.Presets)+1)
	for _, preset := range t.Presets {
		if trimmed := strings.TrimSpace(preset); trimmed != "" {
			tones = append(tones, trimmed)
		}
	}
	if custom := strings.TrimSpace(t.Custom); custom != "" {
		tones = append(tones, custom)
	}
	return tones
}
