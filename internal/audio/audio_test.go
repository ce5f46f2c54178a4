package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

var testFormat = beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}

// writeSilence writes a mono 8kHz WAV of the given length.
func writeSilence(t *testing.T, path string, d time.Duration) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := wav.Encode(f, beep.Silence(testFormat.SampleRate.N(d)), testFormat); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestLoad_WAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.wav")
	writeSilence(t, path, 3*time.Second)

	clip, err := Load(context.Background(), path, dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if clip.Duration() != 3*time.Second {
		t.Errorf("Duration = %s, want 3s", clip.Duration())
	}
	if clip.Format().SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", clip.Format().SampleRate)
	}
}

func TestClip_WriteSlice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.wav")
	writeSilence(t, path, 5*time.Second)

	clip, err := Load(context.Background(), path, dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name       string
		start, end time.Duration
		want       time.Duration
	}{
		{"middle", 1 * time.Second, 3 * time.Second, 2 * time.Second},
		{"tail_clamped", 4 * time.Second, 10 * time.Second, 1 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, tt.name+".wav")
			f, err := os.Create(out)
			if err != nil {
				t.Fatal(err)
			}
			if err := clip.WriteSlice(f, tt.start, tt.end); err != nil {
				f.Close()
				t.Fatalf("WriteSlice: %v", err)
			}
			f.Close()

			slice, err := Load(context.Background(), out, dir, nil)
			if err != nil {
				t.Fatalf("reload slice: %v", err)
			}
			if slice.Duration() != tt.want {
				t.Errorf("slice duration = %s, want %s", slice.Duration(), tt.want)
			}
		})
	}
}

func TestClip_StreamsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.wav")
	writeSilence(t, path, 2*time.Second)

	clip, err := Load(context.Background(), path, dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer clip.Close()

	// Every slice reads the recording again instead of a decoded copy.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "slice.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := clip.WriteSlice(f, 0, time.Second); err == nil {
		t.Error("WriteSlice after removing the source: want error")
	}
}

func TestClip_EmptySlice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.wav")
	writeSilence(t, path, time.Second)

	clip, err := Load(context.Background(), path, dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out := filepath.Join(dir, "empty.wav")
	f, err := os.Create(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := clip.WriteSlice(f, 5*time.Second, 6*time.Second); err != nil {
		f.Close()
		t.Fatalf("WriteSlice: %v", err)
	}
	f.Close()

	slice, err := Load(context.Background(), out, dir, nil)
	if err != nil {
		t.Fatalf("reload slice: %v", err)
	}
	if slice.Duration() != 0 {
		t.Errorf("slice duration = %s, want 0", slice.Duration())
	}
}

func TestLoad_UnsupportedWithoutConverter(t *testing.T) {
	_, err := Load(context.Background(), "/tmp/meeting.m4a", t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected error for m4a without converter")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "", nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConverter_FailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	conv := NewConverter(filepath.Join(dir, "no-such-ffmpeg"))
	if conv.Available() {
		t.Fatal("bogus ffmpeg path reported as available")
	}
	_, cleanup, err := conv.ToWAV(context.Background(), filepath.Join(dir, "in.m4a"), dir)
	cleanup()
	if err == nil {
		t.Fatal("expected error from missing ffmpeg")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("work dir has %d leftover entries", len(entries))
	}
}

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		".wav": "audio/wav",
		".MP3": "audio/mpeg",
		".m4a": "audio/mp4",
		".xyz": "application/octet-stream",
	}
	for ext, want := range tests {
		if got := MIMEType(ext); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", ext, got, want)
		}
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".wav", ".mp3", ".M4A", ".ogg"} {
		if !Supported(ext) {
			t.Errorf("Supported(%q) = false", ext)
		}
	}
	if Supported(".txt") {
		t.Error("Supported(.txt) = true")
	}
}
