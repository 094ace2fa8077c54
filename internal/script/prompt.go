package script

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every completion request.
const SystemPrompt = "You are an expert Instagram reel script writer. Create engaging, viral-worthy scripts that capture " +
	"attention quickly and drive engagement. Always provide structured, actionable scripts that are optimized for " +
	"the specified duration and audience."

const defaultLanguage = "English"

// BuildPrompt renders a validated form into the user prompt. Every field renders a line,
// including the ones left to the model.
func BuildPrompt(f Form) string {
	var b strings.Builder

	b.WriteString("Generate a time-stamped Instagram reel script containing the exact words the creator will say. ")
	b.WriteString("Use the following brief:\n\n")

	title := f.Title
	if title == "" {
		title = "N/A"
	}
	writeLine(&b, "Reel title", title)
	writeLine(&b, "Description / topic", f.Description)
	writeChoice(&b, "Length", f.Length, "length")
	writeLanguage(&b, f.Language)
	writeTone(&b, f.Tone)
	writeChoice(&b, "Script structure", f.Structure, "structure")
	writeChoice(&b, "Hook", f.Hook, "hook")
	writeCTA(&b, f.CTA)
	writeChoice(&b, "Reel goal", f.Goal, "goal")
	writeChoice(&b, "Target audience", f.Audience, "audience")
	if f.AudienceAge != "" {
		writeLine(&b, "Audience age", f.AudienceAge)
	}

	b.WriteString("\nOutput format:\n")
	b.WriteString("Hook (0s to Xs): the opening line.\n")
	b.WriteString("Script content: timed segments.\n")
	b.WriteString("CTA (final 3-5s): a goal-based call to action, unless told to leave it out.\n")

	if len(f.PreviousScripts) > 0 {
		b.WriteString("\nHere are examples of my previous reel scripts. Mimic their speaking style and tone in the new script:\n")
		for i, s := range f.PreviousScripts {
			fmt.Fprintf(&b, "Script %d: %s\n", i+1, s)
		}
	}

	b.WriteString("\nFollow the format above exactly, include time stamps, and respect the requested structure, hook and CTA.")
	return b.String()
}

func writeLine(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func writeChoice(b *strings.Builder, label string, c Choice, noun string) {
	if text, ok := c.Text(); ok {
		writeLine(b, label, text)
		return
	}
	writeLine(b, label, "AI will choose the optimal "+noun)
}

func writeLanguage(b *strings.Builder, c Choice) {
	language, ok := c.Text()
	if !ok {
		language = defaultLanguage
	}
	writeLine(b, "Language / dialect", language)
}

func writeTone(b *strings.Builder, t ToneSelection) {
	tones := t.Tones()
	if len(tones) == 0 {
		writeLine(b, "Tone", "AI will choose the optimal tone")
		return
	}
	writeLine(b, "Tone", strings.Join(tones, ", "))
}

func writeCTA(b *strings.Builder, c Choice) {
	if c.Kind == ChoiceNone {
		writeLine(b, "CTA", "none, write the script without a call to action")
		return
	}
	writeChoice(b, "CTA", c, "CTA")
}
