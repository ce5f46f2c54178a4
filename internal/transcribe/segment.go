package transcribe

import (
	"fmt"
	"strings"
)

const (
	// UnknownSpeaker is used when the service omits a speaker label.
	UnknownSpeaker = "Unknown Speaker"
	// TextMissing marks a segment the service returned without text.
	TextMissing = "[Transcription Missing]"
	// TextFailed marks a chunk that exhausted its retries.
	TextFailed = "[Transcription Failed After Retries]"
)

// Segment is one diarized utterance. Timestamp is "MM:SS - MM:SS"; it is
// chunk-local when returned by the service and global once persisted.
type Segment struct {
	Timestamp string `json:"timestamp"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

// Span returns the segment's start and end in whole seconds.
func (s Segment) Span() (start, end int) {
	start, end, _ = ParseRange(s.Timestamp)
	return start, end
}

// IsFailure reports whether s is the failure sentinel.
func (s Segment) IsFailure() bool { return s.Text == TextFailed }

// IsFailureRecord reports whether a persisted chunk record is exactly the
// single failure sentinel, i.e. eligible for retry on the next run.
func IsFailureRecord(segs []Segment) bool {
	return len(segs) == 1 && segs[0].IsFailure()
}

// FailureSegment builds the sentinel spanning a whole chunk window.
func FailureSegment(w Window) Segment {
	return Segment{
		Timestamp: FormatRange(w.StartSeconds(), w.EndSeconds()),
		Speaker:   UnknownSpeaker,
		Text:      TextFailed,
	}
}

// rawSegment mirrors the service's JSON objects. Pointer fields distinguish
// absent keys from empty values.
type rawSegment struct {
	Timestamp *string `json:"timestamp"`
	Speaker   *string `json:"speaker"`
	Text      *string `json:"text"`
}

// normalize fills in missing fields and shifts the chunk-local timestamp by
// offset seconds.
func (r rawSegment) normalize(offset int) (Segment, error) {
	ts := FormatRange(0, 1)
	if r.Timestamp != nil {
		ts = *r.Timestamp
	}
	start, end, err := ParseRange(ts)
	if err != nil {
		return Segment{}, err
	}
	seg := Segment{
		Timestamp: FormatRange(offset+start, offset+end),
		Speaker:   UnknownSpeaker,
		Text:      TextMissing,
	}
	if r.Speaker != nil {
		seg.Speaker = *r.Speaker
	}
	if r.Text != nil {
		seg.Text = *r.Text
	}
	return seg, nil
}

// ParseRange splits "MM:SS - MM:SS" into start and end seconds.
func ParseRange(ts string) (start, end int, err error) {
	a, b, ok := strings.Cut(ts, "-")
	if !ok {
		return 0, 0, fmt.Errorf("timestamp %q: missing range separator", ts)
	}
	return ParseClock(a), ParseClock(b), nil
}

// FormatRange renders a start/end pair as "MM:SS - MM:SS".
func FormatRange(start, end int) string {
	return FormatClock(start) + " - " + FormatClock(end)
}
