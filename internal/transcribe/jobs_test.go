package transcribe

import (
	"context"
	"errors"
	"testing"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()
	if _, err := tr.Get("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get unknown: err = %v, want ErrSessionNotFound", err)
	}

	if err := tr.Begin(Job{SessionID: "s1", Model: "m"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tr.Begin(Job{SessionID: "s1"}); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Begin: err = %v, want ErrSessionBusy", err)
	}
	if !tr.Busy("s1") {
		t.Error("queued session should be busy")
	}

	tr.Start("s1")
	if tr.Running() != 1 {
		t.Errorf("Running = %d, want 1", tr.Running())
	}
	tr.Progress("s1", ChunkOutcome{Window: Window{Index: 2}, State: ChunkAttempting})
	st, _ := tr.Get("s1")
	if len(st.Chunks) != 3 || st.Chunks[2].State != ChunkAttempting || st.Chunks[0].State != ChunkPlanned {
		t.Errorf("Chunks = %+v", st.Chunks)
	}
	if err := tr.Remove("s1"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Remove running: err = %v, want ErrSessionBusy", err)
	}

	tr.Finish("s1", &Result{
		Segments: []Segment{{Text: "x"}},
		Uploads:  []*UploadedFile{{Name: "files/1"}},
	}, nil)
	st, _ = tr.Get("s1")
	if st.State != JobCompleted || len(st.Segments) != 1 || len(st.Uploads) != 1 {
		t.Errorf("status = %+v", st)
	}
	if tr.Busy("s1") {
		t.Error("completed session should not be busy")
	}

	// A resume keeps earlier uploads for cleanup.
	if err := tr.Begin(Job{SessionID: "s1"}); err != nil {
		t.Fatalf("Begin resume: %v", err)
	}
	tr.Start("s1")
	tr.Finish("s1", nil, errors.New("boom"))
	st, _ = tr.Get("s1")
	if st.State != JobFailed || st.Error != "boom" || len(st.Uploads) != 1 {
		t.Errorf("status = %+v", st)
	}

	if err := tr.Remove("s1"); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if _, err := tr.Get("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after Remove: err = %v", err)
	}
}

func TestTracker_Abandon(t *testing.T) {
	tr := NewTracker()
	tr.Begin(Job{SessionID: "s1"})
	tr.Start("s1")
	tr.Finish("s1", &Result{Segments: []Segment{{Text: "kept"}}}, nil)

	tr.Begin(Job{SessionID: "s1"})
	tr.Abandon("s1")
	st, err := tr.Get("s1")
	if err != nil || st.State != JobCompleted || len(st.Segments) != 1 {
		t.Errorf("after Abandon: %+v, %v; want previous completed status", st, err)
	}

	tr.Begin(Job{SessionID: "s2"})
	tr.Abandon("s2")
	if _, err := tr.Get("s2"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("abandoned new session should be forgotten, err = %v", err)
	}
}

func TestTracker_FinishFailedKeepsUploads(t *testing.T) {
	tr := NewTracker()
	tr.Begin(Job{SessionID: "s1"})
	tr.Start("s1")
	tr.Progress("s1", ChunkOutcome{Window: Window{Index: 0}, State: ChunkDone})

	partial := &Result{
		SessionID: "s1",
		Uploads:   []*UploadedFile{{Name: "files/1"}, {Name: "files/2"}},
	}
	tr.Finish("s1", partial, context.Canceled)

	st, _ := tr.Get("s1")
	if st.State != JobFailed {
		t.Errorf("State = %s, want failed", st.State)
	}
	if len(st.Uploads) != 2 || st.Uploads[1].Name != "files/2" {
		t.Errorf("Uploads = %+v, want both partial uploads", st.Uploads)
	}
	if len(st.Chunks) != 1 || st.Chunks[0].State != ChunkDone {
		t.Errorf("Chunks = %+v, want progress kept", st.Chunks)
	}
}
