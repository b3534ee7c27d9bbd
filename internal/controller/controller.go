// Package controller owns the active view and the working sets of one
// CulinaryLens session, and drives the AI gateway from user triggers.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"culinarylens/internal/gateway"
	"culinarylens/internal/recipe"
	"culinarylens/internal/retry"
)

// Controller errors.
var (
	ErrInvalidTransition     = errors.New("action not available in the current view")
	ErrBusy                  = errors.New("an analysis is already running")
	ErrNoIngredientsSelected = errors.New("please select at least one ingredient")
	ErrInvalidCredential     = errors.New("api key rejected")
	ErrRecipeNotFound        = errors.New("recipe not found")
	ErrUnknownIngredient     = errors.New("ingredient not in inventory")
	ErrSandboxFull           = errors.New("sandbox holds at most 5 ingredients")
	ErrCameraClosed          = errors.New("camera is not open")
)

// DefaultCuisine is used when a generate request names none.
const DefaultCuisine = "Global/Fusion"

// AI is the subset of the gateway the controller drives.
type AI interface {
	ExtractInventory(ctx context.Context, image []byte, mimeType string) ([]recipe.Ingredient, error)
	SynthesizeRecipes(ctx context.Context, ingredients []recipe.Ingredient, cuisine string, diet recipe.DietaryConfig) ([]*recipe.Recipe, error)
	RenderDish(ctx context.Context, r *recipe.Recipe) (string, error)
	RenderBlueprint(ctx context.Context, r *recipe.Recipe) (string, error)
	ValidateStep(ctx context.Context, image []byte, mimeType, instruction string) (*recipe.StepVerdict, error)
	Speak(ctx context.Context, text string) error
	ValidateCredential(ctx context.Context, key string) bool
	MolecularAffinity(ctx context.Context, names []string) (*recipe.AffinityResult, error)
	OpenChat(ctx context.Context, r *recipe.Recipe) (*gateway.ChatSession, error)
}

// Preferences is the persisted settings and journal.
type Preferences interface {
	Credential(ctx context.Context) string
	SetCredential(ctx context.Context, key string) error
	Dietary(ctx context.Context) recipe.DietaryConfig
	SetDietary(ctx context.Context, cfg recipe.DietaryConfig) error
	History(ctx context.Context) []recipe.Recipe
	SaveToHistory(ctx context.Context, r *recipe.Recipe) (*recipe.Recipe, error)
}

// Config tunes a Controller.
type Config struct {
	AdvanceDelay time.Duration
}

// DefaultAdvanceDelay is how long a passed verification stays visible.
const DefaultAdvanceDelay = 3 * time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithAfterFunc overrides the scheduler of delayed actions. The returned
// function cancels the action.
func WithAfterFunc(after func(d time.Duration, f func()) (stop func() bool)) Option {
	return func(c *Controller) {
		c.after = after
	}
}

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Controller is the view-state machine of one session.
type Controller struct {
	ai     AI
	prefs  Preferences
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	after  func(time.Duration, func()) func() bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	view      ViewState
	analysis  AnalysisKind
	busy      bool
	notice    string
	inventory []recipe.Ingredient
	recipes   []*recipe.Recipe
	sandbox   sandbox
	sandboxN  uint64
	exec      *Stepper
	stopTimer func() bool
	chat      *gateway.ChatSession
	closed    bool
}

// New creates a Controller in the Landing view.
func New(ai AI, prefs Preferences, cfg Config, logger *zap.Logger, opts ...Option) *Controller {
	if cfg.AdvanceDelay <= 0 {
		cfg.AdvanceDelay = DefaultAdvanceDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		ai:     ai,
		prefs:  prefs,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		after:  timeAfterFunc,
		ctx:    ctx,
		cancel: cancel,
		view:   ViewLanding,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close cancels background work and waits for it. No new background work
// starts afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// fire applies t to the current view. Callers hold c.mu.
func (c *Controller) fire(t Trigger) error {
	to, ok := transition(c.view, t)
	if !ok {
		return ErrInvalidTransition
	}
	if to != c.view {
		c.logger.Debug("view transition",
			zap.Stringer("from", c.view),
			zap.Stringer("to", to),
			zap.String("trigger", string(t)))
	}
	c.view = to
	return nil
}

// Enter leaves the landing page.
func (c *Controller) Enter() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fire(TriggerEnter)
}

// SelectImage extracts an inventory from a prepared photo. Without a
// credential the view moves to Settings and no call is made.
func (c *Controller) SelectImage(ctx context.Context, image []byte, mimeType string) error {
	hasKey := c.prefs.Credential(ctx) != ""

	c.mu.Lock()
	if c.view != ViewUpload {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if !hasKey {
		c.notice = "Configure an API key to start scanning."
		err := c.fire(TriggerNoCredential)
		c.mu.Unlock()
		return err
	}
	c.beginAnalysis(AnalysisVision)
	c.mu.Unlock()

	inventory, err := c.ai.ExtractInventory(ctx, image, mimeType)

	c.mu.Lock()
	defer c.mu.Unlock()
	stillWaiting := c.endAnalysis(AnalysisVision)
	if err != nil {
		c.logger.Warn("vision analysis failed", zap.Error(err))
		c.notice = err.Error()
		if stillWaiting {
			_ = c.fire(c.failureTrigger(err, TriggerVisionFailed))
		}
		return err
	}

	c.inventory = inventory
	c.resetSandbox()
	if stillWaiting {
		_ = c.fire(TriggerVisionSucceeded)
	}
	return nil
}

// SelectionMode picks how the working set is chosen for synthesis.
type SelectionMode string

const (
	// ModeChef sends the whole inventory and lets the model prioritize.
	ModeChef SelectionMode = "chef"
	// ModeManual sends only the ingredients the user picked.
	ModeManual SelectionMode = "manual"
)

// GenerateRequest holds the Preferences screen inputs.
type GenerateRequest struct {
	Cuisine  string                `json:"cuisine"`
	Mode     SelectionMode         `json:"mode"`
	Selected []string              `json:"selected"`
	Diet     *recipe.DietaryConfig `json:"diet,omitempty"`
}

// Generate synthesizes protocols from the chosen ingredients. An attached
// diet is persisted before the call.
func (c *Controller) Generate(ctx context.Context, req GenerateRequest) error {
	c.mu.Lock()
	if c.view != ViewPreferences {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	working := selectIngredients(c.inventory, req.Mode, req.Selected)
	if len(working) == 0 {
		c.notice = "Please select at least one ingredient."
		c.mu.Unlock()
		return ErrNoIngredientsSelected
	}
	c.beginAnalysis(AnalysisSynthesis)
	c.mu.Unlock()

	cuisine := strings.TrimSpace(req.Cuisine)
	if cuisine == "" {
		cuisine = DefaultCuisine
	}
	var diet recipe.DietaryConfig
	if req.Diet != nil {
		diet = *req.Diet
		if err := c.prefs.SetDietary(ctx, diet); err != nil {
			c.logger.Warn("failed to persist dietary config", zap.Error(err))
		}
	} else {
		diet = c.prefs.Dietary(ctx)
	}

	recipes, err := c.ai.SynthesizeRecipes(ctx, working, cuisine, diet)

	c.mu.Lock()
	defer c.mu.Unlock()
	stillWaiting := c.endAnalysis(AnalysisSynthesis)
	if err != nil {
		c.logger.Warn("protocol synthesis failed", zap.Error(err))
		c.notice = err.Error()
		if stillWaiting {
			_ = c.fire(c.failureTrigger(err, TriggerSynthesisFailed))
		}
		return err
	}

	c.recipes = recipes
	if stillWaiting {
		_ = c.fire(TriggerSynthesisSucceeded)
	}
	return nil
}

func selectIngredients(inventory []recipe.Ingredient, mode SelectionMode, selected []string) []recipe.Ingredient {
	if mode != ModeManual {
		return append([]recipe.Ingredient(nil), inventory...)
	}
	picked := make(map[string]bool, len(selected))
	for _, name := range selected {
		picked[name] = true
	}
	var out []recipe.Ingredient
	for _, ing := range inventory {
		if picked[ing.Name] {
			out = append(out, ing)
		}
	}
	return out
}

// beginAnalysis enters Analysis for kind. Callers hold c.mu.
func (c *Controller) beginAnalysis(kind AnalysisKind) {
	c.notice = ""
	if kind == AnalysisVision {
		_ = c.fire(TriggerImageSelected)
	} else {
		_ = c.fire(TriggerGenerate)
	}
	c.analysis = kind
	c.busy = true
}

// endAnalysis clears the pending call and reports whether the view is still
// waiting on it. Callers hold c.mu.
func (c *Controller) endAnalysis(kind AnalysisKind) bool {
	c.busy = false
	waiting := c.view == ViewAnalysis && c.analysis == kind
	c.analysis = AnalysisNone
	return waiting
}

// failureTrigger routes a rejected credential to Settings.
func (c *Controller) failureTrigger(err error, fallback Trigger) Trigger {
	if retry.IsInvalidCredential(err) {
		return TriggerCredentialDenied
	}
	return fallback
}

// Reset clears the working sets and returns to Upload.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fire(TriggerReset); err != nil {
		return err
	}
	c.inventory = nil
	c.recipes = nil
	c.resetSandbox()
	c.notice = ""
	return nil
}

// StartCooking opens the execution stepper for the recipe with id.
func (c *Controller) StartCooking(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view != ViewDashboard {
		return ErrInvalidTransition
	}
	var r *recipe.Recipe
	for _, candidate := range c.recipes {
		if candidate.ID == id {
			r = candidate
			break
		}
	}
	if r == nil {
		return ErrRecipeNotFound
	}
	if err := c.fire(TriggerStartCooking); err != nil {
		return err
	}
	c.exec = NewStepper(r)
	c.chat = nil
	return nil
}

// OpenSandbox shows the molecular sandbox.
func (c *Controller) OpenSandbox() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fire(TriggerOpenSandbox); err != nil {
		return err
	}
	c.resetSandbox()
	return nil
}

// Back leaves Sandbox or Settings.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.view
	if err := c.fire(TriggerBack); err != nil {
		return err
	}
	if from == ViewSandbox {
		c.resetSandbox()
	}
	return nil
}

// OpenSettings shows the settings screen.
func (c *Controller) OpenSettings() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fire(TriggerOpenSettings)
}

// ExitExecution leaves the stepper for the dashboard. A pending dish render
// still completes and is backfilled.
func (c *Controller) ExitExecution() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fire(TriggerExit); err != nil {
		return err
	}
	if c.exec != nil {
		c.exec.invalidate()
	}
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	c.exec = nil
	c.chat = nil
	return nil
}

// SaveCredential stores key after a successful probe. A rejected key is not
// stored.
func (c *Controller) SaveCredential(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if !c.ai.ValidateCredential(ctx, key) {
		c.mu.Lock()
		c.notice = "Invalid API Key."
		c.mu.Unlock()
		return ErrInvalidCredential
	}
	if err := c.prefs.SetCredential(ctx, key); err != nil {
		return err
	}
	c.mu.Lock()
	c.notice = ""
	c.mu.Unlock()
	c.logger.Info("api key saved")
	return nil
}

// Dietary returns the persisted dietary config.
func (c *Controller) Dietary(ctx context.Context) recipe.DietaryConfig {
	return c.prefs.Dietary(ctx)
}

// UpdateDietary persists cfg.
func (c *Controller) UpdateDietary(ctx context.Context, cfg recipe.DietaryConfig) error {
	return c.prefs.SetDietary(ctx, cfg)
}

// History returns the journal, newest first.
func (c *Controller) History(ctx context.Context) []recipe.Recipe {
	return c.prefs.History(ctx)
}

// Ledger summarizes the inventory and the journal.
func (c *Controller) Ledger(ctx context.Context) recipe.Ledger {
	journal := c.prefs.History(ctx)
	c.mu.Lock()
	inventory := append([]recipe.Ingredient(nil), c.inventory...)
	c.mu.Unlock()
	return recipe.ComputeLedger(inventory, journal)
}
