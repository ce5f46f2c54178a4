package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"
)

// generateBody is the REST shape of a generateContent request.
type generateBody struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text     string `json:"text"`
			FileData *struct {
				FileURI  string `json:"fileUri"`
				MimeType string `json:"mimeType"`
			} `json:"fileData"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig *struct {
		ResponseMimeType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

func newTestGeminiClient(t *testing.T, baseURL string) *GeminiClient {
	t.Helper()
	gc, err := NewGeminiClient(context.Background(), "key", baseURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}
	return gc
}

func TestGeminiClient_Upload(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "key" {
			t.Errorf("%s %s: missing api key", r.Method, r.URL.Path)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload/v1beta/files":
			if r.Header.Get("X-Goog-Upload-Command") != "start" {
				t.Errorf("start command = %q", r.Header.Get("X-Goog-Upload-Command"))
			}
			if r.Header.Get("X-Goog-Upload-Header-Content-Type") != "audio/wav" {
				t.Errorf("content type header = %q", r.Header.Get("X-Goog-Upload-Header-Content-Type"))
			}
			w.Header().Set("X-Goog-Upload-URL", srv.URL+"/resumable/abc")
			w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && r.URL.Path == "/resumable/abc":
			body, _ := io.ReadAll(r.Body)
			if string(body) != "RIFF" {
				t.Errorf("uploaded body = %q", body)
			}
			if r.Header.Get("X-Goog-Upload-Command") != "upload, finalize" {
				t.Errorf("finalize command = %q", r.Header.Get("X-Goog-Upload-Command"))
			}
			w.Header().Set("X-Goog-Upload-Status", "final")
			w.Write([]byte(`{"file": {"name": "files/abc", "uri": "https://files/abc", "mimeType": "audio/wav", "state": "PROCESSING"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1beta/files/abc":
			state := "PROCESSING"
			if polls.Add(1) > 1 {
				state = "ACTIVE"
			}
			json.NewEncoder(w).Encode(map[string]string{
				"name": "files/abc", "uri": "https://files/abc", "mimeType": "audio/wav", "state": state,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "chunk_0.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	gc := newTestGeminiClient(t, srv.URL)
	gc.pollInterval = time.Millisecond
	f, err := gc.Upload(context.Background(), path, "audio/wav")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if f.Name != "files/abc" || f.URI != "https://files/abc" || f.State != "ACTIVE" {
		t.Errorf("file = %+v", f)
	}
	if polls.Load() != 2 {
		t.Errorf("polls = %d, want 2", polls.Load())
	}
}

func TestGeminiClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req generateBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.GenerationConfig == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("generationConfig = %+v", req.GenerationConfig)
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("contents = %+v", req.Contents)
			return
		}
		parts := req.Contents[0].Parts
		if len(parts) != 2 || parts[0].Text != "prompt" || parts[1].FileData == nil || parts[1].FileData.FileURI != "https://files/abc" {
			t.Errorf("parts = %+v", parts)
		}
		w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "[{\"text\":"}, {"text": " \"hi\"}]"}]}, "finishReason": "STOP"}]}`))
	}))
	defer srv.Close()

	gc := newTestGeminiClient(t, srv.URL)
	text, err := gc.Generate(context.Background(), GenerateRequest{
		Model:  "gemini-2.0-flash",
		Prompt: "prompt",
		File:   &UploadedFile{Name: "files/abc", URI: "https://files/abc", MIMEType: "audio/wav"},
		JSON:   true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `[{"text": "hi"}]` {
		t.Errorf("text = %q", text)
	}
}

func TestGeminiClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http_error", http.StatusTooManyRequests, `{"error": {"code": 429, "message": "quota"}}`, "quota"},
		{"blocked", http.StatusOK, `{"promptFeedback": {"blockReason": "SAFETY"}}`, "SAFETY"},
		{"no_candidates", http.StatusOK, `{}`, "no candidates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			gc := newTestGeminiClient(t, srv.URL)
			_, err := gc.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
			var apiErr genai.APIError
			if tt.status != http.StatusOK && (!errors.As(err, &apiErr) || apiErr.Code != tt.status) {
				t.Errorf("err = %v, want APIError with code %d", err, tt.status)
			}
		})
	}
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	if _, err := NewGeminiClient(context.Background(), "", "", time.Second); err == nil {
		t.Error("NewGeminiClient without a key: want error")
	}
}

func TestGeminiClient_DeleteFile(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	gc := newTestGeminiClient(t, srv.URL)
	if err := gc.DeleteFile(context.Background(), "files/abc"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1beta/files/abc" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
}
