package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"

	"culinarylens/internal/gateway"
)

// StatusError is a non-2xx reply of the REST endpoint.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface. The status code is part of the
// message so the retry classifier can see 401 and 429.
func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %s", e.Code, e.Body)
}

// HTTPStatusCode returns the HTTP status.
func (e *StatusError) HTTPStatusCode() int {
	return e.Code
}

type restPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *restInline `json:"inlineData,omitempty"`
}

type restInline struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type restImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type restGenerationConfig struct {
	ResponseMIMEType   string           `json:"responseMimeType,omitempty"`
	ResponseSchema     *restSchema      `json:"responseSchema,omitempty"`
	ResponseModalities []string         `json:"responseModalities,omitempty"`
	ImageConfig        *restImageConfig `json:"imageConfig,omitempty"`
}

type restRequest struct {
	SystemInstruction *restContent          `json:"systemInstruction,omitempty"`
	Contents          []restContent         `json:"contents"`
	Tools             []restTool            `json:"tools,omitempty"`
	GenerationConfig  *restGenerationConfig `json:"generationConfig,omitempty"`
}

type restResponse struct {
	Candidates []struct {
		Content restContent `json:"content"`
	} `json:"candidates"`
}

type restSchema struct {
	Type        string                 `json:"type"`
	Format      string                 `json:"format,omitempty"`
	Description string                 `json:"description,omitempty"`
	Nullable    bool                   `json:"nullable,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       *restSchema            `json:"items,omitempty"`
	Properties  map[string]*restSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

// toRESTSchema renders an SDK schema in the REST JSON form.
func toRESTSchema(s *genai.Schema) *restSchema {
	if s == nil {
		return nil
	}
	out := &restSchema{
		Type:        schemaType(s.Type),
		Format:      s.Format,
		Description: s.Description,
		Nullable:    s.Nullable,
		Enum:        s.Enum,
		Items:       toRESTSchema(s.Items),
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*restSchema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toRESTSchema(v)
		}
	}
	return out
}

func schemaType(t genai.Type) string {
	switch t {
	case genai.TypeString:
		return "STRING"
	case genai.TypeNumber:
		return "NUMBER"
	case genai.TypeInteger:
		return "INTEGER"
	case genai.TypeBoolean:
		return "BOOLEAN"
	case genai.TypeArray:
		return "ARRAY"
	case genai.TypeObject:
		return "OBJECT"
	default:
		return "TYPE_UNSPECIFIED"
	}
}

func buildRESTRequest(req *gateway.Request) restRequest {
	body := restRequest{}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &restContent{Parts: []restPart{{Text: req.SystemInstruction}}}
	}

	content := restContent{Role: "user"}
	for _, p := range req.Parts {
		if p.IsBlob() {
			content.Parts = append(content.Parts, restPart{InlineData: &restInline{MIMEType: p.MIMEType, Data: p.Data}})
			continue
		}
		content.Parts = append(content.Parts, restPart{Text: p.Text})
	}
	body.Contents = []restContent{content}

	if req.Search {
		body.Tools = []restTool{{GoogleSearch: &struct{}{}}}
	}

	gc := &restGenerationConfig{
		ResponseMIMEType: req.ResponseMIMEType,
		ResponseSchema:   toRESTSchema(req.ResponseSchema),
	}
	for _, m := range req.ResponseModalities {
		gc.ResponseModalities = append(gc.ResponseModalities, string(m))
	}
	if req.AspectRatio != "" {
		gc.ImageConfig = &restImageConfig{AspectRatio: req.AspectRatio}
	}
	if gc.ResponseMIMEType != "" || gc.ResponseSchema != nil || len(gc.ResponseModalities) > 0 || gc.ImageConfig != nil {
		body.GenerationConfig = gc
	}
	return body
}

func (c *Client) generateREST(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
	reqBytes, err := json.Marshal(buildRESTRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("gemini REST call rejected", zap.String("model", req.Model), zap.Int("status", resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out restResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	parts := make([]gateway.Part, 0, len(out.Candidates[0].Content.Parts))
	for _, p := range out.Candidates[0].Content.Parts {
		if p.InlineData != nil {
			parts = append(parts, gateway.BlobPart(p.InlineData.MIMEType, p.InlineData.Data))
			continue
		}
		parts = append(parts, gateway.TextPart(p.Text))
	}
	return &gateway.Response{Parts: parts}, nil
}
