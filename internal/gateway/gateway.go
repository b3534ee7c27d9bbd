// Package gateway builds one model request per capability and parses one
// typed result from the reply. Retries are delegated to the retry executor.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"culinarylens/internal/audio"
	"culinarylens/internal/retry"
)

// ErrNoCredential is the cause of the invalid-credential error returned when
// no API key is configured.
var ErrNoCredential = errors.New("api key not configured")

// Operation labels, used in classified errors and metrics.
const (
	LabelInventory  = "Vision Analysis"
	LabelSynthesis  = "Protocol Synthesis"
	LabelDishImage  = "Rendering"
	LabelBlueprint  = "Blueprint Synthesis"
	LabelAffinity   = "Molecular Calculation"
	LabelValidation = "Step Validation"
	LabelSpeech     = "Speech Synthesis"
	LabelChat       = "Sous Chef"
)

// Models names the model used by each capability.
type Models struct {
	Vision    string
	Synthesis string
	Image     string
	Speech    string
	Chat      string
}

// Policies holds one retry policy per capability. The credential probe is
// never retried.
type Policies struct {
	Inventory  retry.Policy
	Synthesis  retry.Policy
	DishImage  retry.Policy
	Blueprint  retry.Policy
	Affinity   retry.Policy
	Validation retry.Policy
	Speech     retry.Policy
	Chat       retry.Policy
}

// Config configures a Gateway.
type Config struct {
	Models        Models
	Policies      Policies
	ProtocolCount int
}

// Gateway exposes the AI capabilities.
type Gateway struct {
	cfg     Config
	factory BackendFactory
	creds   CredentialSource
	exec    *retry.Executor
	player  audio.Player
	logger  *zap.Logger

	mu        sync.Mutex
	cachedKey string
	cached    Backend
}

// New creates a new Gateway.
func New(cfg Config, factory BackendFactory, creds CredentialSource, exec *retry.Executor, player audio.Player, logger *zap.Logger) *Gateway {
	if cfg.ProtocolCount <= 0 {
		cfg.ProtocolCount = 2
	}
	return &Gateway{
		cfg:     cfg,
		factory: factory,
		creds:   creds,
		exec:    exec,
		player:  player,
		logger:  logger,
	}
}

// backend returns the backend for the current credential, building it on
// first use. A missing credential fails before any outbound call.
func (g *Gateway) backend(ctx context.Context, label string) (Backend, error) {
	key := g.creds.Credential(ctx)
	if key == "" {
		return nil, &retry.Error{Kind: retry.KindInvalidCredential, Context: label, Cause: ErrNoCredential}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cached != nil && g.cachedKey == key {
		return g.cached, nil
	}

	b, err := g.factory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	if closer, ok := g.cached.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			g.logger.Warn("failed to close previous backend", zap.Error(err))
		}
	}
	g.cachedKey, g.cached = key, b
	return b, nil
}

// generate resolves the backend and performs one call.
func (g *Gateway) generate(ctx context.Context, label string, req *Request) (*Response, error) {
	b, err := g.backend(ctx, label)
	if err != nil {
		return nil, err
	}
	return b.Generate(ctx, req)
}

// Close releases the cached backend.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var err error
	if closer, ok := g.cached.(io.Closer); ok {
		err = closer.Close()
	}
	g.cachedKey, g.cached = "", nil
	return err
}

// extractJSON returns the outermost JSON value of model text, which may be
// wrapped in markdown fences or prose.
func extractJSON(text string) (string, error) {
	closing := "}"
	start := strings.Index(text, "{")
	if arr := strings.Index(text, "["); arr != -1 && (start == -1 || arr < start) {
		closing = "]"
		start = arr
	}
	end := strings.LastIndex(text, closing)
	if start == -1 || end == -1 || start > end {
		return "", fmt.Errorf("could not find JSON object in response: %q", truncate(text, 200))
	}
	return text[start : end+1], nil
}

func decodeJSON(text string, v any) error {
	clean, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		return fmt.Errorf("failed to unmarshal model JSON: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
