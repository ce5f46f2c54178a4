package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient talks to the Gemini API (files + generateContent) through
// the genai SDK. Implements the Service interface.
type GeminiClient struct {
	client       *genai.Client
	pollInterval time.Duration
}

// NewGeminiClient creates a Gemini API client. An empty baseURL uses the
// public endpoint; timeout bounds every HTTP request.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, timeout time.Duration) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = strings.TrimRight(baseURL, "/") + "/"
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, pollInterval: time.Second}, nil
}

// Upload sends a file with the resumable upload protocol and waits until
// the service has finished processing it.
func (gc *GeminiClient) Upload(ctx context.Context, path, mimeType string) (*UploadedFile, error) {
	f, err := gc.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	f, err = gc.waitActive(ctx, f)
	if err != nil {
		return nil, err
	}
	return &UploadedFile{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType, State: string(f.State)}, nil
}

// waitActive polls a file until it leaves the PROCESSING state.
func (gc *GeminiClient) waitActive(ctx context.Context, f *genai.File) (*genai.File, error) {
	for f.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return f, ctx.Err()
		case <-time.After(gc.pollInterval):
		}
		next, err := gc.client.Files.Get(ctx, f.Name, nil)
		if err != nil {
			return f, fmt.Errorf("get file %s: %w", f.Name, err)
		}
		f = next
	}
	if f.State == genai.FileStateFailed {
		return f, fmt.Errorf("file %s failed processing", f.Name)
	}
	return f, nil
}

// Generate calls models/{model}:generateContent and returns the
// concatenated text of the first candidate.
func (gc *GeminiClient) Generate(ctx context.Context, gr GenerateRequest) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(gr.Prompt)}
	if gr.File != nil {
		parts = append(parts, genai.NewPartFromURI(gr.File.URI, gr.File.MIMEType))
	}
	if gr.Text != "" {
		parts = append(parts, genai.NewPartFromText(gr.Text))
	}
	var cfg *genai.GenerateContentConfig
	if gr.JSON {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	resp, err := gc.client.Models.GenerateContent(ctx, gr.Model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("generate: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("generate: no candidates returned")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

// DeleteFile deletes an uploaded file by resource name ("files/abc123").
func (gc *GeminiClient) DeleteFile(ctx context.Context, name string) error {
	if _, err := gc.client.Files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete file %s: %w", name, err)
	}
	return nil
}
