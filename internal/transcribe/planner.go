package transcribe

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPlan is returned when chunk length and overlap cannot produce
// a plan that advances through the audio.
var ErrInvalidPlan = errors.New("invalid chunk plan")

// Window is one planned slice of the source audio.
type Window struct {
	Index int
	Start time.Duration
	End   time.Duration
}

// StartSeconds returns the window start truncated to whole seconds.
func (w Window) StartSeconds() int { return int(w.Start / time.Second) }

// EndSeconds returns the window end truncated to whole seconds.
func (w Window) EndSeconds() int { return int(w.End / time.Second) }

// Duration returns the window length.
func (w Window) Duration() time.Duration { return w.End - w.Start }

// Plan divides total into consecutive windows of at most length, each
// starting overlap before the previous window's end. The last window always
// ends exactly at total. A non-positive total yields no windows.
func Plan(total, length, overlap time.Duration) ([]Window, error) {
	if err := CheckPlan(length, overlap); err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, nil
	}

	windows := make([]Window, 0, PlanSize(total, length, overlap))
	start := time.Duration(0)
	for start < total {
		end := min(start+length, total)
		windows = append(windows, Window{Index: len(windows), Start: start, End: end})
		if end == total {
			break
		}
		start = end - overlap
	}
	return windows, nil
}

// CheckPlan validates chunk length and overlap.
func CheckPlan(length, overlap time.Duration) error {
	if length <= 0 {
		return fmt.Errorf("%w: chunk length %s must be positive", ErrInvalidPlan, length)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap %s must not be negative", ErrInvalidPlan, overlap)
	}
	if overlap >= length {
		return fmt.Errorf("%w: overlap %s must be shorter than chunk length %s", ErrInvalidPlan, overlap, length)
	}
	return nil
}

// PlanSize returns the number of windows Plan produces. With no overlap
// this is ceil(total/length).
func PlanSize(total, length, overlap time.Duration) int {
	step := length - overlap
	if total <= 0 || step <= 0 {
		return 0
	}
	if total <= length {
		return 1
	}
	return 1 + int((total-length+step-1)/step)
}
