package controller

import (
	"context"

	"go.uber.org/zap"

	"culinarylens/internal/gateway"
	"culinarylens/internal/recipe"
)

type sandbox struct {
	selected    []string
	affinity    *recipe.AffinityResult
	calculating bool
}

// ToggleSandbox adds or removes an inventory item from the sandbox. With two
// or more items selected the affinity is recomputed; with fewer it is cleared.
// A result that arrives after a newer toggle is dropped.
func (c *Controller) ToggleSandbox(ctx context.Context, name string) error {
	c.mu.Lock()
	if c.view != ViewSandbox {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if !hasIngredient(c.inventory, name) {
		c.mu.Unlock()
		return ErrUnknownIngredient
	}

	sb := &c.sandbox
	if i := indexOf(sb.selected, name); i >= 0 {
		sb.selected = append(sb.selected[:i:i], sb.selected[i+1:]...)
	} else if len(sb.selected) >= gateway.MaxAffinityIngredients {
		c.mu.Unlock()
		return ErrSandboxFull
	} else {
		sb.selected = append(sb.selected, name)
	}

	c.sandboxN++
	gen := c.sandboxN
	if len(sb.selected) < gateway.MinAffinityIngredients {
		sb.affinity = nil
		sb.calculating = false
		c.mu.Unlock()
		return nil
	}
	names := append([]string(nil), sb.selected...)
	sb.calculating = true
	c.mu.Unlock()

	result, err := c.ai.MolecularAffinity(ctx, names)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view != ViewSandbox || c.sandboxN != gen {
		return err
	}
	c.sandbox.calculating = false
	if err != nil {
		c.logger.Warn("affinity calculation failed", zap.Error(err))
		c.notice = err.Error()
		return err
	}
	c.sandbox.affinity = result
	return nil
}

// resetSandbox empties the sandbox. An affinity call still in flight is
// dropped when it returns. Callers hold c.mu.
func (c *Controller) resetSandbox() {
	c.sandbox = sandbox{}
	c.sandboxN++
}

func hasIngredient(inventory []recipe.Ingredient, name string) bool {
	for _, ing := range inventory {
		if ing.Name == name {
			return true
		}
	}
	return false
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
