package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"culinarylens/internal/recipe"
)

func TestParseCountdown(t *testing.T) {
	tests := []struct {
		instruction string
		want        time.Duration
	}{
		{"Simmer for 10 minutes", 600 * time.Second},
		{"Rest for 30 seconds", 30 * time.Second},
		{"Whisk the eggs until pale", 0},
		{"Bake for 2 hours, then 10 minutes more", 2 * time.Hour},
		{"Proof 1 hr", time.Hour},
		{"Sear 3 MINS per side", 3 * time.Minute},
		{"Blanch 45secs", 45 * time.Second},
		{"Chill 1 minute", time.Minute},
		{"Wait 0 minutes", 0},
		{"Use 2 tomatoes", 0},
		{"Cook 10minutesish", 0},
	}

	for _, tt := range tests {
		t.Run(tt.instruction, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCountdown(tt.instruction))
		})
	}
}

func TestCountdown(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCountdown(30 * time.Second)

	assert.Equal(t, 30*time.Second, c.Remaining(start))
	assert.False(t, c.Running(start))

	c.Start(start)
	assert.True(t, c.Running(start.Add(10*time.Second)))
	assert.Equal(t, 20*time.Second, c.Remaining(start.Add(10*time.Second)))

	c.Pause(start.Add(10 * time.Second))
	assert.Equal(t, 20*time.Second, c.Remaining(start.Add(time.Minute)))

	c.Start(start.Add(time.Minute))
	later := start.Add(5 * time.Minute)
	assert.Equal(t, time.Duration(0), c.Remaining(later))
	assert.False(t, c.Running(later), "stops at zero")

	c.Start(later)
	assert.False(t, c.Running(later), "a finished timer does not restart")

	c.Reset()
	assert.Equal(t, 30*time.Second, c.Remaining(later))
	assert.False(t, c.Running(later))
}

func TestStepperWalk(t *testing.T) {
	r := &recipe.Recipe{Instructions: []string{"Boil water", "Cook pasta for 8 minutes", "Drain"}}
	s := NewStepper(r)

	assert.Nil(t, s.Timer())
	assert.False(t, s.Prev(), "already at the first step")

	assert.False(t, s.Next())
	assert.Equal(t, 1, s.Step())
	if assert.NotNil(t, s.Timer()) {
		assert.Equal(t, 8*time.Minute, s.Timer().Duration())
	}

	assert.False(t, s.Next())
	assert.Nil(t, s.Timer())
	assert.True(t, s.Next(), "finishing the last step completes")
	assert.True(t, s.Completed())
	assert.False(t, s.Next(), "completion is reported once")

	assert.True(t, s.Prev())
	assert.False(t, s.Completed())
	assert.Equal(t, 1, s.Step())
}

func TestStepperPrevBlockedWhileTransitioning(t *testing.T) {
	s := NewStepper(&recipe.Recipe{Instructions: []string{"a", "b", "c"}})
	s.Next()
	s.transitioning = true
	assert.False(t, s.Prev())

	gen := s.gen
	s.invalidate()
	assert.NotEqual(t, gen, s.gen)
	assert.False(t, s.transitioning)
}

func TestStepperWithoutInstructions(t *testing.T) {
	s := NewStepper(&recipe.Recipe{})
	assert.Equal(t, "", s.Instruction())
	assert.True(t, s.Next())
}
