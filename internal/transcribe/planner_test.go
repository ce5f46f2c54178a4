package transcribe

import (
	"errors"
	"testing"
	"time"
)

func TestPlan(t *testing.T) {
	s := time.Second
	tests := []struct {
		name    string
		total   time.Duration
		length  time.Duration
		overlap time.Duration
		want    [][2]int // start, end seconds
	}{
		{"shorter_than_chunk", 90 * s, 480 * s, 0, [][2]int{{0, 90}}},
		{"exactly_one_chunk", 480 * s, 480 * s, 0, [][2]int{{0, 480}}},
		{"two_chunks", 900 * s, 480 * s, 0, [][2]int{{0, 480}, {480, 900}}},
		{"three_even", 1440 * s, 480 * s, 0, [][2]int{{0, 480}, {480, 960}, {960, 1440}}},
		{"overlap", 900 * s, 480 * s, 30 * s, [][2]int{{0, 480}, {450, 900}}},
		{"overlap_three", 1000 * s, 480 * s, 30 * s, [][2]int{{0, 480}, {450, 930}, {900, 1000}}},
		{"empty", 0, 480 * s, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.total, tt.length, tt.overlap)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("windows = %+v, want %v", got, tt.want)
			}
			for i, w := range got {
				if w.Index != i || w.StartSeconds() != tt.want[i][0] || w.EndSeconds() != tt.want[i][1] {
					t.Errorf("window[%d] = %+v, want %v", i, w, tt.want[i])
				}
			}
			if n := PlanSize(tt.total, tt.length, tt.overlap); n != len(got) {
				t.Errorf("PlanSize = %d, want %d", n, len(got))
			}
		})
	}
}

func TestPlan_Coverage(t *testing.T) {
	length := 480 * time.Second
	for _, overlap := range []time.Duration{0, 15 * time.Second, 479 * time.Second} {
		for _, total := range []time.Duration{
			time.Second, 479 * time.Second, 481 * time.Second,
			3*time.Hour + 1500*time.Millisecond, 7 * time.Hour,
		} {
			ws, err := Plan(total, length, overlap)
			if err != nil {
				t.Fatalf("Plan(%s, %s): %v", total, overlap, err)
			}
			if ws[0].Start != 0 {
				t.Errorf("first window starts at %s", ws[0].Start)
			}
			if last := ws[len(ws)-1]; last.End != total {
				t.Errorf("total %s overlap %s: last window ends at %s", total, overlap, last.End)
			}
			for i, w := range ws {
				if w.End <= w.Start || w.Duration() > length {
					t.Errorf("window %+v has bad length", w)
				}
				if i > 0 && w.Start != ws[i-1].End-overlap {
					t.Errorf("window %d starts at %s, want %s", i, w.Start, ws[i-1].End-overlap)
				}
			}
			if n := PlanSize(total, length, overlap); n != len(ws) {
				t.Errorf("PlanSize(%s, %s) = %d, want %d", total, overlap, n, len(ws))
			}
		}
	}
}

func TestPlan_NoOverlapCount(t *testing.T) {
	length := 480 * time.Second
	for _, total := range []time.Duration{1, 480 * time.Second, 481 * time.Second, 5 * time.Hour} {
		want := int((total + length - 1) / length)
		if got := PlanSize(total, length, 0); got != want {
			t.Errorf("PlanSize(%s) = %d, want ceil = %d", total, got, want)
		}
	}
}

func TestPlan_Invalid(t *testing.T) {
	tests := []struct {
		name            string
		length, overlap time.Duration
	}{
		{"zero_length", 0, 0},
		{"negative_overlap", time.Minute, -time.Second},
		{"overlap_equals_length", time.Minute, time.Minute},
		{"overlap_exceeds_length", time.Minute, 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Plan(time.Hour, tt.length, tt.overlap); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("err = %v, want ErrInvalidPlan", err)
			}
		})
	}
}
