package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"culinarylens/internal/gateway"
)

// DefaultBaseURL is the public Generative Language API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client is a client for the Gemini API. Plain text, vision and schema calls
// go through the SDK; calls that need response modalities, image config or
// the search tool go through the REST endpoint.
type Client struct {
	sdk        *genai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL for REST calls.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, apiKey string, logger *zap.Logger, opts ...Option) (*Client, error) {
	sdk, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("error creating gemini client: %w", err)
	}
	c := &Client{
		sdk:        sdk,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Factory returns a gateway.BackendFactory producing Gemini clients.
func Factory(logger *zap.Logger, opts ...Option) gateway.BackendFactory {
	return func(ctx context.Context, credential string) (gateway.Backend, error) {
		return NewClient(ctx, credential, logger, opts...)
	}
}

// Close releases the SDK connection.
func (c *Client) Close() error {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

// Generate performs one generateContent call.
func (c *Client) Generate(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	if needsREST(req) {
		return c.generateREST(ctx, req)
	}
	return c.generateSDK(ctx, req)
}

func needsREST(req *gateway.Request) bool {
	return req.Search || len(req.ResponseModalities) > 0 || req.AspectRatio != ""
}

func (c *Client) model(name, systemInstruction string) *genai.GenerativeModel {
	model := c.sdk.GenerativeModel(name)
	if systemInstruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	}
	return model
}

func (c *Client) generateSDK(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	model := c.model(req.Model, req.SystemInstruction)
	model.ResponseMIMEType = req.ResponseMIMEType
	model.ResponseSchema = req.ResponseSchema

	resp, err := model.GenerateContent(ctx, toSDKParts(req.Parts)...)
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from Gemini")
	}
	return &gateway.Response{Parts: fromSDKParts(resp.Candidates[0].Content.Parts)}, nil
}

func toSDKParts(parts []gateway.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.IsBlob() {
			out = append(out, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
			continue
		}
		out = append(out, genai.Text(p.Text))
	}
	return out
}

func fromSDKParts(parts []genai.Part) []gateway.Part {
	out := make([]gateway.Part, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case genai.Text:
			out = append(out, gateway.TextPart(string(v)))
		case genai.Blob:
			out = append(out, gateway.BlobPart(v.MIMEType, v.Data))
		}
	}
	return out
}

// StartChat opens a multi-turn session on the SDK.
func (c *Client) StartChat(_ context.Context, cfg gateway.ChatConfig) (gateway.ChatConn, error) {
	model := c.model(cfg.Model, cfg.SystemInstruction)
	return &chatConn{session: model.StartChat()}, nil
}

type chatConn struct {
	session *genai.ChatSession
}

func (c *chatConn) SendStream(ctx context.Context, text string) (gateway.ChunkIterator, error) {
	return &chunkIterator{it: c.session.SendMessageStream(ctx, genai.Text(text))}, nil
}

type chunkIterator struct {
	it *genai.GenerateContentResponseIterator
}

// Next returns the text of the next streamed response.
func (i *chunkIterator) Next() (string, error) {
	resp, err := i.it.Next()
	if errors.Is(err, iterator.Done) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return sb.String(), nil
}
