package transcribe

import (
	"context"
	"fmt"
	"strings"
)

// Lines renders segments as "[timestamp] speaker: text", one per line.
func Lines(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s: %s", s.Timestamp, s.Speaker, s.Text)
	}
	return b.String()
}

// Markdown renders segments as a Markdown document, one paragraph per segment.
func Markdown(title string, segs []Segment) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	for _, s := range segs {
		fmt.Fprintf(&b, "**%s** [%s]: %s\n\n", s.Speaker, s.Timestamp, s.Text)
	}
	return b.String()
}

// Summarize asks the service to summarize a transcript. An empty prompt
// uses DefaultSummaryPrompt.
func Summarize(ctx context.Context, svc Service, model, prompt string, segs []Segment) (string, error) {
	if len(segs) == 0 {
		return "", fmt.Errorf("summarize: transcript is empty")
	}
	if prompt == "" {
		prompt = DefaultSummaryPrompt
	}
	text, err := svc.Generate(ctx, GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Text:   Lines(segs),
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(text), nil
}
