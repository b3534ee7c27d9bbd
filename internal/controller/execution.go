package controller

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"culinarylens/internal/gateway"
	"culinarylens/internal/recipe"
)

// stepper returns the active stepper. Callers hold c.mu.
func (c *Controller) stepper() (*Stepper, error) {
	if c.view != ViewExecution || c.exec == nil {
		return nil, ErrInvalidTransition
	}
	return c.exec, nil
}

// Next advances the stepper. Finishing the last step archives the recipe.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	st, err := c.stepper()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.cancelAdvance()
	completed := st.Next()
	c.mu.Unlock()

	if completed {
		return c.complete(ctx, st)
	}
	return nil
}

// Prev goes back one step unless an auto-advance is pending.
func (c *Controller) Prev() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.stepper()
	if err != nil {
		return err
	}
	if !st.Prev() {
		return ErrInvalidTransition
	}
	return nil
}

// cancelAdvance stops a scheduled auto-advance. Callers hold c.mu.
func (c *Controller) cancelAdvance() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

// autoAdvance runs after a passed verification unless the step moved since.
func (c *Controller) autoAdvance(st *Stepper, gen uint64) {
	c.mu.Lock()
	if c.closed || c.exec != st || st.gen != gen || !st.transitioning {
		c.mu.Unlock()
		return
	}
	c.stopTimer = nil
	completed := st.Next()
	c.mu.Unlock()

	if completed {
		if err := c.complete(c.ctx, st); err != nil {
			c.logger.Error("failed to archive completed recipe", zap.Error(err))
		}
	}
}

// complete archives the recipe and, when it has no dish image yet, renders
// one in the background exactly once and backfills it.
func (c *Controller) complete(ctx context.Context, st *Stepper) error {
	c.mu.Lock()
	r := st.recipe
	entry := r.Clone()
	c.mu.Unlock()

	saved, err := c.prefs.SaveToHistory(ctx, entry)
	if err != nil {
		c.mu.Lock()
		c.notice = "Failed to save to journal."
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if r.ID == "" {
		r.ID = saved.ID
	}
	needImage := r.ImageURL == "" && !st.imageRequested && !c.closed
	if needImage {
		st.imageRequested = true
		st.generatingImage = true
		c.wg.Add(1)
	}
	target := r.Clone()
	c.mu.Unlock()

	c.logger.Info("service complete", zap.String("recipe_id", saved.ID), zap.String("title", saved.Title))
	if !needImage {
		return nil
	}

	go func() {
		defer c.wg.Done()
		c.backfillImage(st, r, target)
	}()
	return nil
}

func (c *Controller) backfillImage(st *Stepper, r, target *recipe.Recipe) {
	url, err := c.ai.RenderDish(c.ctx, target)

	c.mu.Lock()
	st.generatingImage = false
	if err != nil || url == "" {
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("dish render failed", zap.String("recipe_id", target.ID), zap.Error(err))
		}
		return
	}
	r.ImageURL = url
	updated := r.Clone()
	c.mu.Unlock()

	if _, err := c.prefs.SaveToHistory(c.ctx, updated); err != nil {
		c.logger.Error("failed to backfill dish image", zap.String("recipe_id", updated.ID), zap.Error(err))
	}
}

// StartTimer starts or resumes the countdown of the current step.
func (c *Controller) StartTimer() error {
	return c.withTimer(func(t *Countdown) { t.Start(c.now()) })
}

// PauseTimer freezes the countdown.
func (c *Controller) PauseTimer() error {
	return c.withTimer(func(t *Countdown) { t.Pause(c.now()) })
}

// ResetTimer restores the full countdown.
func (c *Controller) ResetTimer() error {
	return c.withTimer(func(t *Countdown) { t.Reset() })
}

func (c *Controller) withTimer(f func(*Countdown)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.stepper()
	if err != nil {
		return err
	}
	if st.timer == nil {
		return ErrInvalidTransition
	}
	f(st.timer)
	return nil
}

// OpenCamera starts a verification capture and clears the last verdict.
func (c *Controller) OpenCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.stepper()
	if err != nil {
		return err
	}
	if st.completed || st.camera == CameraAnalyzing {
		return ErrInvalidTransition
	}
	st.camera = CameraOpen
	st.verdict = nil
	return nil
}

// CloseCamera releases the capture.
func (c *Controller) CloseCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.stepper()
	if err != nil {
		return err
	}
	if st.camera == CameraOpen {
		st.camera = CameraClosed
	}
	return nil
}

// Verify checks a captured frame against the current step. The camera is
// closed afterwards; a pass schedules the auto-advance.
func (c *Controller) Verify(ctx context.Context, image []byte, mimeType string) (*recipe.StepVerdict, error) {
	c.mu.Lock()
	st, err := c.stepper()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if st.camera != CameraOpen {
		c.mu.Unlock()
		return nil, ErrCameraClosed
	}
	st.camera = CameraAnalyzing
	instruction := st.Instruction()
	gen := st.gen
	c.mu.Unlock()

	verdict, err := c.ai.ValidateStep(ctx, image, mimeType, instruction)

	c.mu.Lock()
	defer c.mu.Unlock()
	st.camera = CameraClosed
	if err != nil {
		c.logger.Warn("step validation failed", zap.Error(err))
		if c.exec == st {
			c.notice = err.Error()
		}
		return nil, err
	}
	if c.exec != st || st.gen != gen {
		return verdict, nil
	}

	st.verdict = verdict
	if verdict.Passed() {
		st.transitioning = true
		c.cancelAdvance()
		c.stopTimer = c.after(c.cfg.AdvanceDelay, func() { c.autoAdvance(st, gen) })
	}
	return verdict, nil
}

// Speak reads the current instruction aloud with emphasis markers removed.
func (c *Controller) Speak(ctx context.Context) error {
	c.mu.Lock()
	st, err := c.stepper()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if st.speaking {
		c.mu.Unlock()
		return ErrBusy
	}
	st.speaking = true
	text := strings.ReplaceAll(st.Instruction(), "**", "")
	c.mu.Unlock()

	err = c.ai.Speak(ctx, text)

	c.mu.Lock()
	st.speaking = false
	c.mu.Unlock()
	return err
}

// RenderBlueprint generates the counter schematic for the active recipe.
func (c *Controller) RenderBlueprint(ctx context.Context) (string, error) {
	c.mu.Lock()
	st, err := c.stepper()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	if st.recipe.BlueprintImageURL != "" {
		url := st.recipe.BlueprintImageURL
		c.mu.Unlock()
		return url, nil
	}
	target := st.recipe.Clone()
	c.mu.Unlock()

	url, err := c.ai.RenderBlueprint(ctx, target)
	if err != nil {
		return "", err
	}
	if url != "" {
		c.mu.Lock()
		st.recipe.BlueprintImageURL = url
		c.mu.Unlock()
	}
	return url, nil
}

// OpenChat starts the sous-chef conversation for the active recipe. An open
// conversation is reused.
func (c *Controller) OpenChat(ctx context.Context) (*gateway.ChatSession, error) {
	c.mu.Lock()
	st, err := c.stepper()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.chat != nil {
		chat := c.chat
		c.mu.Unlock()
		return chat, nil
	}
	target := st.recipe.Clone()
	c.mu.Unlock()

	chat, err := c.ai.OpenChat(ctx, target)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exec != st {
		return nil, ErrInvalidTransition
	}
	if c.chat == nil {
		c.chat = chat
	}
	return c.chat, nil
}

// SendChat asks the sous-chef a question with the current step as context.
func (c *Controller) SendChat(ctx context.Context, text string) (*gateway.Stream, error) {
	chat, err := c.OpenChat(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	var step string
	if c.exec != nil && !c.exec.completed {
		step = c.exec.Instruction()
	}
	c.mu.Unlock()
	return chat.Send(ctx, text, step)
}
