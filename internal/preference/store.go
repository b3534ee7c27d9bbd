// Package preference persists the API credential, the dietary configuration
// and the recipe journal.
package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"culinarylens/internal/platform/kv"
	"culinarylens/internal/recipe"
)

// Slot names.
const (
	KeyCredential = "culinary_lens_key"
	KeyDiet       = "culinary_lens_diet"
	KeyHistory    = "culinary_lens_history"
)

// DefaultHistoryLimit caps the journal.
const DefaultHistoryLimit = 50

// Store reads and writes the three preference slots. The credential lives in
// the session backend, everything else in the durable one.
type Store struct {
	session kv.Backend
	durable kv.Backend
	logger  *zap.Logger
	limit   int
	now     func() time.Time

	// mu serializes read-modify-write of the journal.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock replaces time.Now for completion stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new Store.
func NewStore(session, durable kv.Backend, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		session: session,
		durable: durable,
		logger:  logger,
		limit:   DefaultHistoryLimit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Credential returns the stored API key, or "" when none is configured.
func (s *Store) Credential(ctx context.Context) string {
	v, err := s.session.Get(ctx, KeyCredential)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read credential slot", zap.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(string(v))
}

// SetCredential stores key for the session. An empty key clears it.
func (s *Store) SetCredential(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		if err := s.session.Delete(ctx, KeyCredential); err != nil {
			return fmt.Errorf("failed to clear credential: %w", err)
		}
		return nil
	}
	if err := s.session.Set(ctx, KeyCredential, []byte(key)); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Dietary returns the stored configuration, or the zero value when the slot
// is absent or unparsable.
func (s *Store) Dietary(ctx context.Context) recipe.DietaryConfig {
	var cfg recipe.DietaryConfig
	data, err := s.durable.Get(ctx, KeyDiet)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read dietary config", zap.Error(err))
		}
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.logger.Warn("failed to parse dietary config", zap.Error(err))
		return recipe.DietaryConfig{}
	}
	return cfg
}

// SetDietary persists cfg. The last write wins.
func (s *Store) SetDietary(ctx context.Context, cfg recipe.DietaryConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal dietary config: %w", err)
	}
	if err := s.durable.Set(ctx, KeyDiet, data); err != nil {
		return fmt.Errorf("failed to save dietary config: %w", err)
	}
	return nil
}

// History returns the journal, newest first. Read and parse failures yield an
// empty journal.
func (s *Store) History(ctx context.Context) []recipe.Recipe {
	data, err := s.durable.Get(ctx, KeyHistory)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read history", zap.Error(err))
		}
		return []recipe.Recipe{}
	}
	var history []recipe.Recipe
	if err := json.Unmarshal(data, &history); err != nil {
		s.logger.Warn("failed to parse history", zap.Error(err))
		return []recipe.Recipe{}
	}
	if history == nil {
		history = []recipe.Recipe{}
	}
	return history
}

// SaveToHistory archives r at the head of the journal. A missing id is
// assigned on r itself. The completion time of an existing entry with the same
// id wins over r's own, which wins over the current time. Saving the same id
// again replaces the entry without growing the journal.
func (s *Store) SaveToHistory(ctx context.Context, r *recipe.Recipe) (*recipe.Recipe, error) {
	if r == nil {
		return nil, fmt.Errorf("nil recipe")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	history := s.History(ctx)

	entry := r.Clone()
	var completedAt time.Time
	for _, h := range history {
		if h.ID == r.ID && h.Archived() {
			completedAt = *h.CompletedAt
			break
		}
	}
	if completedAt.IsZero() && r.Archived() {
		completedAt = *r.CompletedAt
	}
	if completedAt.IsZero() {
		completedAt = s.now().UTC()
	}
	entry.CompletedAt = &completedAt

	next := make([]recipe.Recipe, 0, len(history)+1)
	next = append(next, *entry)
	for _, h := range history {
		if h.ID != r.ID {
			next = append(next, h)
		}
	}
	if len(next) > s.limit {
		next = next[:s.limit]
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.durable.Set(ctx, KeyHistory, data); err != nil {
		return nil, fmt.Errorf("failed to save history: %w", err)
	}

	s.logger.Info("recipe archived", zap.String("recipe_id", entry.ID), zap.Int("journal_size", len(next)))
	return entry.Clone(), nil
}
