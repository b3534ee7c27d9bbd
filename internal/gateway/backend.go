package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// ErrUnsupported is returned by backends that cannot serve a request shape.
var ErrUnsupported = errors.New("gateway: request not supported by backend")

// Modality is a requested response modality.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
	ModalityAudio Modality = "AUDIO"
)

// Part is either text or an inline blob.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// IsBlob reports whether the part carries inline bytes.
func (p Part) IsBlob() bool {
	return len(p.Data) > 0
}

// TextPart creates a text part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// BlobPart creates an inline data part.
func BlobPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// Request is a single generateContent call.
type Request struct {
	Model              string
	SystemInstruction  string
	Parts              []Part
	ResponseMIMEType   string
	ResponseSchema     *genai.Schema
	Search             bool
	ResponseModalities []Modality
	AspectRatio        string
}

// Response holds the parts of the first candidate.
type Response struct {
	Parts []Part
}

// Text concatenates the text parts.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Parts {
		if !p.IsBlob() {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// FirstBlob returns the first inline data part.
func (r *Response) FirstBlob() (Part, bool) {
	if r == nil {
		return Part{}, false
	}
	for _, p := range r.Parts {
		if p.IsBlob() {
			return p, true
		}
	}
	return Part{}, false
}

// ChatConfig configures a chat conversation.
type ChatConfig struct {
	Model             string
	SystemInstruction string
}

// ChunkIterator yields streamed text. Next returns io.EOF after the last chunk.
type ChunkIterator interface {
	Next() (string, error)
}

// ChatConn is a multi-turn conversation held by a backend.
type ChatConn interface {
	SendStream(ctx context.Context, text string) (ChunkIterator, error)
}

// Backend performs calls against a generative model service.
type Backend interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	StartChat(ctx context.Context, cfg ChatConfig) (ChatConn, error)
}

// BackendFactory builds a backend bound to one credential.
type BackendFactory func(ctx context.Context, credential string) (Backend, error)

// CredentialSource supplies the current API key.
type CredentialSource interface {
	Credential(ctx context.Context) string
}
