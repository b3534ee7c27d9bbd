package controller

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"culinarylens/internal/recipe"
)

var durationPattern = regexp.MustCompile(`(?i)\b(\d+)\s*(minutes?|mins?|seconds?|secs?|hours?|hrs?)\b`)

// ParseCountdown derives a timer from the first time phrase of an
// instruction. Zero means the step has no countdown.
func ParseCountdown(instruction string) time.Duration {
	m := durationPattern.FindStringSubmatch(instruction)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "min"):
		return time.Duration(n) * time.Minute
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "hr"):
		return time.Duration(n) * time.Hour
	case strings.HasPrefix(unit, "sec"):
		return time.Duration(n) * time.Second
	}
	return 0
}

// Countdown is a pausable timer. Remaining time is computed from the clock
// passed in, so no goroutine ticks it.
type Countdown struct {
	duration  time.Duration
	remaining time.Duration
	startedAt time.Time
	running   bool
}

// NewCountdown returns a stopped countdown at full duration.
func NewCountdown(d time.Duration) *Countdown {
	return &Countdown{duration: d, remaining: d}
}

// Duration is the full length.
func (c *Countdown) Duration() time.Duration {
	return c.duration
}

// Remaining returns the time left at now, never below zero.
func (c *Countdown) Remaining(now time.Time) time.Duration {
	if !c.running {
		return c.remaining
	}
	left := c.remaining - now.Sub(c.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Running reports whether the timer is counting. It stops on its own at zero.
func (c *Countdown) Running(now time.Time) bool {
	return c.running && c.Remaining(now) > 0
}

// Start resumes counting. A finished timer stays at zero.
func (c *Countdown) Start(now time.Time) {
	if c.Running(now) {
		return
	}
	c.remaining = c.Remaining(now)
	if c.remaining == 0 {
		c.running = false
		return
	}
	c.startedAt = now
	c.running = true
}

// Pause freezes the remaining time.
func (c *Countdown) Pause(now time.Time) {
	c.remaining = c.Remaining(now)
	c.running = false
}

// Reset stops the timer and restores the full duration.
func (c *Countdown) Reset() {
	c.remaining = c.duration
	c.running = false
}

// CameraState is the verification capture sub-state.
type CameraState int

const (
	CameraClosed CameraState = iota
	CameraOpen
	CameraAnalyzing
)

func (s CameraState) String() string {
	switch s {
	case CameraOpen:
		return "open"
	case CameraAnalyzing:
		return "analyzing"
	default:
		return "closed"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CameraState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stepper walks one recipe's instructions. It is not safe for concurrent use;
// the controller serializes access.
type Stepper struct {
	recipe *recipe.Recipe

	step          int
	timer         *Countdown
	camera        CameraState
	verdict       *recipe.StepVerdict
	transitioning bool
	completed     bool
	speaking      bool

	// gen changes on every step move so a stale auto-advance can be dropped.
	gen uint64

	imageRequested  bool
	generatingImage bool
}

// NewStepper starts at the first instruction of r.
func NewStepper(r *recipe.Recipe) *Stepper {
	s := &Stepper{recipe: r}
	s.loadStep()
	return s
}

func (s *Stepper) loadStep() {
	s.timer = nil
	if d := ParseCountdown(s.Instruction()); d > 0 {
		s.timer = NewCountdown(d)
	}
}

// Step is the zero-based index of the current instruction.
func (s *Stepper) Step() int {
	return s.step
}

// Instruction returns the text of the current step.
func (s *Stepper) Instruction() string {
	if s.step < 0 || s.step >= len(s.recipe.Instructions) {
		return ""
	}
	return s.recipe.Instructions[s.step]
}

// Completed reports whether service is complete.
func (s *Stepper) Completed() bool {
	return s.completed
}

// Timer returns the countdown of the current step, or nil.
func (s *Stepper) Timer() *Countdown {
	return s.timer
}

// Next advances one step. On the last step it enters the completed sub-state
// and reports true; it is a no-op once completed.
func (s *Stepper) Next() bool {
	if s.completed {
		return false
	}
	s.gen++
	s.transitioning = false
	s.verdict = nil
	if s.step < len(s.recipe.Instructions)-1 {
		s.step++
		s.loadStep()
		return false
	}
	s.completed = true
	return true
}

// Prev goes back one step. It is refused while an auto-advance is pending
// and on the first step.
func (s *Stepper) Prev() bool {
	if s.step == 0 || s.transitioning {
		return false
	}
	s.gen++
	s.step--
	s.completed = false
	s.verdict = nil
	s.loadStep()
	return true
}

// invalidate drops any pending auto-advance.
func (s *Stepper) invalidate() {
	s.gen++
	s.transitioning = false
	if s.camera == CameraOpen {
		s.camera = CameraClosed
	}
}
