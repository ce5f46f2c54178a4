package transcribe

import (
	"testing"
	"time"
)

func seg(ts, text string) Segment {
	return Segment{Timestamp: ts, Speaker: "Speaker A", Text: text}
}

func TestReconcile_Concatenates(t *testing.T) {
	ws, _ := Plan(900*time.Second, 480*time.Second, 0)
	got := Reconcile(ws, [][]Segment{
		{seg("00:01 - 00:04", "a"), seg("07:50 - 08:00", "b")},
		{},
	}, 0)
	if len(got) != 2 || got[0].Text != "a" || got[1].Text != "b" {
		t.Errorf("Reconcile = %+v", got)
	}
}

func TestReconcile_KeepsChunkOrder(t *testing.T) {
	ws, _ := Plan(900*time.Second, 480*time.Second, 0)
	got := Reconcile(ws, [][]Segment{
		{seg("00:10 - 00:20", "late"), seg("00:01 - 00:05", "early")},
		{seg("08:00 - 08:05", "next")},
	}, 0)
	want := []string{"late", "early", "next"}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("segment[%d] = %q, want %q", i, got[i].Text, w)
		}
	}
}

func TestReconcile_TrimsOverlap(t *testing.T) {
	ws, _ := Plan(900*time.Second, 480*time.Second, 30*time.Second)
	got := Reconcile(ws, [][]Segment{
		{seg("07:40 - 07:55", "tail")},
		{
			seg("07:31 - 07:55", "duplicate"),
			seg("08:00 - 08:10", "kept"),
		},
	}, 30*time.Second)
	if len(got) != 2 || got[0].Text != "tail" || got[1].Text != "kept" {
		t.Errorf("Reconcile = %+v", got)
	}
}

func TestReconcile_NeverTrimsSentinel(t *testing.T) {
	ws, _ := Plan(900*time.Second, 480*time.Second, 30*time.Second)
	got := Reconcile(ws, [][]Segment{
		{seg("00:00 - 08:00", "x")},
		{FailureSegment(ws[1])},
	}, 30*time.Second)
	if len(got) != 2 || !got[1].IsFailure() {
		t.Errorf("Reconcile = %+v", got)
	}
}
