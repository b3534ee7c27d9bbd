package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"culinarylens/internal/gateway"
	"culinarylens/internal/retry"
)

func newRESTClient(baseURL string) *Client {
	return &Client{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		apiKey:     "test-key",
		logger:     zap.NewNop(),
	}
}

func TestGenerateRESTImage(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash-image:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[
			{"text":"here you go"},
			{"inlineData":{"mimeType":"image/png","data":"iVBORw=="}}
		]}}]}`))
	}))
	defer srv.Close()

	c := newRESTClient(srv.URL)
	resp, err := c.Generate(context.Background(), &gateway.Request{
		Model:              "gemini-2.5-flash-image",
		Parts:              []gateway.Part{gateway.TextPart("Professional plating of Soup. Michelin style.")},
		ResponseModalities: []gateway.Modality{gateway.ModalityText, gateway.ModalityImage},
		AspectRatio:        "16:9",
	})
	require.NoError(t, err)

	assert.Equal(t, "here you go", resp.Text())
	blob, ok := resp.FirstBlob()
	require.True(t, ok)
	assert.Equal(t, "image/png", blob.MIMEType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, blob.Data)

	gc := captured["generationConfig"].(map[string]any)
	assert.Equal(t, []any{"TEXT", "IMAGE"}, gc["responseModalities"])
	assert.Equal(t, map[string]any{"aspectRatio": "16:9"}, gc["imageConfig"])
	assert.NotContains(t, captured, "tools")
}

func TestGenerateRESTSearchWithSchema(t *testing.T) {
	var captured restRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"protocols\":[]}"}]}}]}`))
	}))
	defer srv.Close()

	c := newRESTClient(srv.URL)
	resp, err := c.Generate(context.Background(), &gateway.Request{
		Model:             "gemini-3-pro-preview",
		SystemInstruction: "persona",
		Parts:             []gateway.Part{gateway.TextPart("Synthesize")},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    gateway.RecipeCatalogSchema,
		Search:            true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"protocols":[]}`, resp.Text())

	require.Len(t, captured.Tools, 1)
	assert.NotNil(t, captured.Tools[0].GoogleSearch)
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "persona", captured.SystemInstruction.Parts[0].Text)
	require.NotNil(t, captured.GenerationConfig)
	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMIMEType)
	require.NotNil(t, captured.GenerationConfig.ResponseSchema)
	assert.Equal(t, "OBJECT", captured.GenerationConfig.ResponseSchema.Type)
	assert.Equal(t, "ARRAY", captured.GenerationConfig.ResponseSchema.Properties["protocols"].Type)
}

func TestGenerateRESTStatusIsClassified(t *testing.T) {
	tests := []struct {
		status int
		kind   retry.Kind
	}{
		{http.StatusUnauthorized, retry.KindInvalidCredential},
		{http.StatusTooManyRequests, retry.KindOverloaded},
		{http.StatusInternalServerError, retry.KindFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := newRESTClient(srv.URL)
			_, err := c.Generate(context.Background(), &gateway.Request{
				Model:              "gemini-2.5-flash-preview-tts",
				Parts:              []gateway.Part{gateway.TextPart("hello")},
				ResponseModalities: []gateway.Modality{gateway.ModalityAudio},
			})
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.HTTPStatusCode())
			assert.Equal(t, tt.kind, retry.Classify(err, "Speech Synthesis").Kind)
		})
	}
}

func TestGenerateRESTEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := newRESTClient(srv.URL).Generate(context.Background(), &gateway.Request{
		Model:  "m",
		Search: true,
	})
	assert.Error(t, err)
}

func TestNeedsREST(t *testing.T) {
	assert.False(t, needsREST(&gateway.Request{ResponseMIMEType: "application/json"}))
	assert.True(t, needsREST(&gateway.Request{Search: true}))
	assert.True(t, needsREST(&gateway.Request{AspectRatio: "16:9"}))
	assert.True(t, needsREST(&gateway.Request{ResponseModalities: []gateway.Modality{gateway.ModalityAudio}}))
}

func TestBuildRESTRequestBlobPart(t *testing.T) {
	body := buildRESTRequest(&gateway.Request{
		Parts: []gateway.Part{
			gateway.BlobPart("image/jpeg", []byte{1, 2, 3}),
			gateway.TextPart("Analyze inventory."),
		},
	})
	require.Len(t, body.Contents, 1)
	assert.Equal(t, "user", body.Contents[0].Role)
	require.Len(t, body.Contents[0].Parts, 2)
	assert.Equal(t, "image/jpeg", body.Contents[0].Parts[0].InlineData.MIMEType)
	assert.Equal(t, "Analyze inventory.", body.Contents[0].Parts[1].Text)
	assert.Nil(t, body.GenerationConfig)
	assert.Nil(t, body.SystemInstruction)
}

func TestToRESTSchema(t *testing.T) {
	s := toRESTSchema(&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"status": {Type: genai.TypeString, Enum: []string{"pass", "fail"}},
			"tags":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"status"},
	})
	assert.Equal(t, "OBJECT", s.Type)
	assert.Equal(t, []string{"pass", "fail"}, s.Properties["status"].Enum)
	assert.Equal(t, "STRING", s.Properties["tags"].Items.Type)
	assert.Equal(t, []string{"status"}, s.Required)
	assert.Nil(t, toRESTSchema(nil))
}
