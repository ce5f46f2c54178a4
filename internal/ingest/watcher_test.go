package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/transcribe"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []transcribe.Job
	err  error
	got  chan transcribe.Job
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{got: make(chan transcribe.Job, 10)}
}

func (s *recordingSubmitter) Submit(j transcribe.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, j)
	s.got <- j
	return nil
}

func waitJob(t *testing.T, ch <-chan transcribe.Job) transcribe.Job {
	t.Helper()
	select {
	case j := <-ch:
		return j
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
	return transcribe.Job{}
}

func newTestWatcher(t *testing.T, sub Submitter) (*InboxWatcher, string, string) {
	t.Helper()
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	audioDir := filepath.Join(root, "audio")
	fw := NewInboxWatcher(WatcherOptions{
		InboxDir:  inbox,
		AudioDir:  audioDir,
		Model:     "gemini-2.0-flash",
		Submitter: sub,
		Log:       zerolog.Nop(),
	})
	return fw, inbox, audioDir
}

func TestInboxWatcher_Backfill(t *testing.T) {
	sub := newRecordingSubmitter()
	fw, inbox, audioDir := newTestWatcher(t, sub)
	os.MkdirAll(inbox, 0o755)
	os.WriteFile(filepath.Join(inbox, "board.mp3"), []byte("ID3data"), 0o644)
	os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("ignore me"), 0o644)

	if err := fw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fw.Stop()

	j := waitJob(t, sub.got)
	if !j.Fresh {
		t.Error("inbox jobs should be fresh")
	}
	if j.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q", j.Model)
	}
	want := filepath.Join(audioDir, j.SessionID, "board.mp3")
	if j.AudioPath != want {
		t.Errorf("AudioPath = %q, want %q", j.AudioPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("recording not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inbox, "board.mp3")); !os.IsNotExist(err) {
		t.Error("recording still in inbox")
	}
	if _, err := os.Stat(filepath.Join(inbox, "notes.txt")); err != nil {
		t.Error("non-audio file should be left alone")
	}
}

func TestInboxWatcher_NewFile(t *testing.T) {
	sub := newRecordingSubmitter()
	fw, inbox, _ := newTestWatcher(t, sub)
	if err := fw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fw.Stop()

	os.WriteFile(filepath.Join(inbox, "retro.wav"), []byte("RIFFdata"), 0o644)

	j := waitJob(t, sub.got)
	if filepath.Base(j.AudioPath) != "retro.wav" {
		t.Errorf("AudioPath = %q", j.AudioPath)
	}
	if !transcribe.ValidSessionID(j.SessionID) {
		t.Errorf("SessionID = %q is not valid", j.SessionID)
	}
	if fw.Queued() != 1 {
		t.Errorf("Queued = %d, want 1", fw.Queued())
	}
}

func TestInboxWatcher_SubmitFailureReturnsFile(t *testing.T) {
	sub := newRecordingSubmitter()
	sub.err = errors.New("transcription queue is full")
	fw, inbox, _ := newTestWatcher(t, sub)
	os.MkdirAll(inbox, 0o755)
	path := filepath.Join(inbox, "allhands.wav")
	os.WriteFile(path, []byte("RIFFdata"), 0o644)

	fw.processFile(path)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("recording should be back in the inbox: %v", err)
	}
	if fw.Queued() != 0 {
		t.Errorf("Queued = %d, want 0", fw.Queued())
	}
	if !fw.held[path] {
		t.Error("returned recording should be held until restart")
	}
}

func TestIsRecording(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.wav", true},
		{"B.MP3", true},
		{"call.m4a", true},
		{".partial.wav", false},
		{"notes.txt", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := isRecording(tt.name); got != tt.want {
			t.Errorf("isRecording(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
