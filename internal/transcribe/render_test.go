package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var renderSegs = []Segment{
	{Timestamp: "00:00 - 00:04", Speaker: "Speaker A", Text: "Good morning."},
	{Timestamp: "00:04 - 00:09", Speaker: "Speaker B", Text: "Morning, let's start."},
}

func TestLines(t *testing.T) {
	want := "[00:00 - 00:04] Speaker A: Good morning.\n[00:04 - 00:09] Speaker B: Morning, let's start."
	if got := Lines(renderSegs); got != want {
		t.Errorf("Lines = %q, want %q", got, want)
	}
}

func TestMarkdown(t *testing.T) {
	got := Markdown("Weekly sync", renderSegs)
	if !strings.HasPrefix(got, "# Weekly sync\n\n") {
		t.Errorf("missing title: %q", got)
	}
	if !strings.Contains(got, "**Speaker B** [00:04 - 00:09]: Morning, let's start.\n") {
		t.Errorf("missing segment line: %q", got)
	}
}

func TestSummarize(t *testing.T) {
	var seen GenerateRequest
	svc := newFakeService(nil)
	svc.respond = func(int) (string, error) { return "  summary  \n", nil }

	got, err := Summarize(context.Background(), svc, "gemini-2.0-flash", "", renderSegs)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "summary" {
		t.Errorf("Summarize = %q, want summary", got)
	}
	seen = svc.requests[0]
	if seen.Prompt != DefaultSummaryPrompt || seen.Text != Lines(renderSegs) || seen.File != nil {
		t.Errorf("request = %+v", seen)
	}

	if _, err := Summarize(context.Background(), svc, "m", "", nil); err == nil {
		t.Error("empty transcript should fail")
	}

	svc.respond = func(int) (string, error) { return "", errors.New("quota") }
	if _, err := Summarize(context.Background(), svc, "m", "custom", renderSegs); err == nil {
		t.Error("service error should propagate")
	}
}
