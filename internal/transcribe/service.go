package transcribe

import "context"

// Service is the remote multimodal model the pipeline talks to.
type Service interface {
	// Upload sends a local file to the service and returns its handle.
	Upload(ctx context.Context, path, mimeType string) (*UploadedFile, error)
	// Generate runs one content-generation request and returns the raw text.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// DeleteFile releases an uploaded file handle.
	DeleteFile(ctx context.Context, name string) error
}

// UploadedFile is a handle to a file held by the remote service.
type UploadedFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type"`
	State    string `json:"state,omitempty"`
}

// GenerateRequest is a single prompt, optionally with one file attached.
type GenerateRequest struct {
	Model  string
	Prompt string
	File   *UploadedFile
	// Text is appended as a second text part after the file (or prompt).
	Text string
	// JSON constrains the response to application/json.
	JSON bool
}
