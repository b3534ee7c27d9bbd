package controller

import (
	"culinarylens/internal/recipe"
)

// Snapshot is an immutable copy of the controller state for rendering.
type Snapshot struct {
	View      ViewState           `json:"view"`
	Analysis  AnalysisKind        `json:"analysis,omitempty"`
	Logs      []string            `json:"logs,omitempty"`
	Busy      bool                `json:"busy"`
	Notice    string              `json:"notice,omitempty"`
	Inventory []recipe.Ingredient `json:"inventory"`
	Recipes   []*recipe.Recipe    `json:"recipes"`
	Sandbox   *SandboxSnapshot    `json:"sandbox,omitempty"`
	Execution *ExecutionSnapshot  `json:"execution,omitempty"`
}

// SandboxSnapshot is the molecular sandbox state.
type SandboxSnapshot struct {
	Selected    []string               `json:"selected"`
	Affinity    *recipe.AffinityResult `json:"affinity,omitempty"`
	Calculating bool                   `json:"calculating"`
}

// TimerSnapshot is a countdown in whole seconds.
type TimerSnapshot struct {
	Duration  int  `json:"duration"`
	Remaining int  `json:"remaining"`
	Running   bool `json:"running"`
}

// ExecutionSnapshot is the stepper state.
type ExecutionSnapshot struct {
	Recipe          *recipe.Recipe       `json:"recipe"`
	Step            int                  `json:"step"`
	TotalSteps      int                  `json:"totalSteps"`
	Instruction     string               `json:"instruction"`
	Timer           *TimerSnapshot       `json:"timer,omitempty"`
	Camera          CameraState          `json:"camera"`
	Verdict         *recipe.StepVerdict  `json:"verdict,omitempty"`
	Transitioning   bool                 `json:"transitioning"`
	Completed       bool                 `json:"completed"`
	Speaking        bool                 `json:"speaking"`
	GeneratingImage bool                 `json:"generatingImage"`
	Chat            []recipe.ChatMessage `json:"chat,omitempty"`
	ChatStreaming   bool                 `json:"chatStreaming"`
}

// State returns a snapshot of the current state.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		View:      c.view,
		Busy:      c.busy,
		Notice:    c.notice,
		Inventory: append([]recipe.Ingredient{}, c.inventory...),
		Recipes:   make([]*recipe.Recipe, 0, len(c.recipes)),
	}
	for _, r := range c.recipes {
		s.Recipes = append(s.Recipes, r.Clone())
	}
	if c.view == ViewAnalysis {
		s.Analysis = c.analysis
		s.Logs = append([]string(nil), c.analysis.logs()...)
	}
	if c.view == ViewSandbox {
		s.Sandbox = &SandboxSnapshot{
			Selected:    append([]string{}, c.sandbox.selected...),
			Affinity:    c.sandbox.affinity,
			Calculating: c.sandbox.calculating,
		}
	}
	if st := c.exec; st != nil && c.view == ViewExecution {
		es := &ExecutionSnapshot{
			Recipe:          st.recipe.Clone(),
			Step:            st.step,
			TotalSteps:      len(st.recipe.Instructions),
			Instruction:     st.Instruction(),
			Camera:          st.camera,
			Transitioning:   st.transitioning,
			Completed:       st.completed,
			Speaking:        st.speaking,
			GeneratingImage: st.generatingImage,
		}
		if st.verdict != nil {
			v := *st.verdict
			es.Verdict = &v
		}
		if t := st.timer; t != nil {
			now := c.now()
			es.Timer = &TimerSnapshot{
				Duration:  int(t.Duration().Seconds()),
				Remaining: int(t.Remaining(now).Seconds()),
				Running:   t.Running(now),
			}
		}
		if c.chat != nil {
			es.Chat = c.chat.Transcript()
			es.ChatStreaming = c.chat.Streaming()
		}
		s.Execution = es
	}
	return s
}
