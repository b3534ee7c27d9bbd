package localllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"culinarylens/internal/gateway"
	"culinarylens/internal/media"
)

const (
	DefaultURL   = "http://localhost:1234/v1/chat/completions"
	DefaultModel = "gemma-3-12b-it"

	jsonInstruction = "Respond with a single clean JSON object and no markdown formatting."
)

// Client represents a client for an OpenAI-compatible local LLM server. It
// serves text and vision calls only.
type Client struct {
	httpClient *http.Client
	apiURL     string
	model      string
	logger     *zap.Logger
}

// NewClient creates a new client for the local LLM. Empty arguments fall
// back to DefaultURL and DefaultModel.
func NewClient(apiURL, model string, logger *zap.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		httpClient: &http.Client{},
		apiURL:     apiURL,
		model:      model,
		logger:     logger,
	}
}

// Factory returns a gateway.BackendFactory. The local server ignores the
// credential.
func Factory(apiURL, model string, logger *zap.Logger) gateway.BackendFactory {
	return func(context.Context, string) (gateway.Backend, error) {
		return NewClient(apiURL, model, logger), nil
	}
}

// Request represents the request body for the local LLM.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks the server for JSON output.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Message represents a message in the request.
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// Content represents the content of a message.
type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents the image URL in the content.
type ImageURL struct {
	URL string `json:"url"`
}

// Response represents the response from the local LLM.
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice represents a choice in the response.
type Choice struct {
	Message ResponseMessage `json:"message"`
}

// ResponseMessage represents a message in the response.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func textMessage(role, text string) Message {
	return Message{Role: role, Content: []Content{{Type: "text", Text: text}}}
}

// Generate maps a gateway request onto one chat completion. Image or audio
// output and the search tool are not available locally.
func (c *Client) Generate(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	for _, m := range req.ResponseModalities {
		if m != gateway.ModalityText {
			return nil, fmt.Errorf("%w: %s output", gateway.ErrUnsupported, m)
		}
	}
	if req.Search {
		c.logger.Debug("search grounding not available on local model; ignoring")
	}

	var messages []Message
	var format *ResponseFormat
	system := req.SystemInstruction
	if req.ResponseMIMEType == "application/json" {
		system = joinNonEmpty(system, jsonInstruction)
		format = &ResponseFormat{Type: "json_object"}
	}
	if system != "" {
		messages = append(messages, textMessage("system", system))
	}

	user := Message{Role: "user"}
	for _, p := range req.Parts {
		if p.IsBlob() {
			user.Content = append(user.Content, Content{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: media.DataURI(p.MIMEType, p.Data)},
			})
			continue
		}
		user.Content = append(user.Content, Content{Type: "text", Text: p.Text})
	}
	messages = append(messages, user)

	text, err := c.complete(ctx, messages, format)
	if err != nil {
		return nil, err
	}
	return &gateway.Response{Parts: []gateway.Part{gateway.TextPart(text)}}, nil
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// complete sends a request to the local LLM and returns the reply text. A
// non-nil format constrains the reply.
func (c *Client) complete(ctx context.Context, messages []Message, format *ResponseFormat) (string, error) {
	reqBody := Request{
		Model:          c.model,
		Messages:       messages,
		Temperature:    1,
		MaxTokens:      4096,
		ResponseFormat: format,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("received non-OK status code: %d", resp.StatusCode)
	}

	var llmResp Response
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(llmResp.Choices) > 0 {
		c.logger.Debug("local LLM response", zap.Int("chars", len(llmResp.Choices[0].Message.Content)))
		return llmResp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("no content found in response")
}

// StartChat opens a conversation whose history is replayed on every turn.
func (c *Client) StartChat(_ context.Context, cfg gateway.ChatConfig) (gateway.ChatConn, error) {
	conv := &conversation{client: c}
	if cfg.SystemInstruction != "" {
		conv.history = append(conv.history, textMessage("system", cfg.SystemInstruction))
	}
	return conv, nil
}

type conversation struct {
	client *Client

	mu      sync.Mutex
	history []Message
}

// SendStream returns the whole reply as a single chunk.
func (c *conversation) SendStream(ctx context.Context, text string) (gateway.ChunkIterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := append(append([]Message(nil), c.history...), textMessage("user", text))
	reply, err := c.client.complete(ctx, messages, nil)
	if err != nil {
		return nil, err
	}
	c.history = append(messages, textMessage("assistant", reply))
	return &singleChunk{text: reply}, nil
}

type singleChunk struct {
	text string
	done bool
}

func (s *singleChunk) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}
