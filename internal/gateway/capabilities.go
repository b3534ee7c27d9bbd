package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"culinarylens/internal/audio"
	"culinarylens/internal/media"
	"culinarylens/internal/recipe"
	"culinarylens/internal/retry"
)

const mimeJSON = "application/json"

// Affinity selection bounds.
const (
	MinAffinityIngredients = 2
	MaxAffinityIngredients = 5
)

// ErrAffinityArity is returned when the ingredient set is outside the bounds.
var ErrAffinityArity = fmt.Errorf("molecular affinity needs between %d and %d ingredients", MinAffinityIngredients, MaxAffinityIngredients)

const (
	inventoryPrompt    = "Analyze inventory. Return JSON manifest."
	synthesisPersona   = "You are a Computational Gastronomist. Focus on molecular pairings and zero-waste impact."
	dishPromptFmt      = "Professional plating of %s. Michelin style."
	blueprintPromptFmt = "Minimalist flat-lay schematic blueprint of a kitchen counter for \"%s\". Show tools and ingredients. Architectural style."
	validationPrompt   = "Evaluate step: %s. Return JSON with status (\"pass\" or \"fail\") and feedback."
	affinityPromptFmt  = "Calculate molecular affinity for: %s. Return JSON with score (0-100), rationale, and bridgingIngredients."
	probePrompt        = "Ping"
	imageAspectRatio   = "16:9"
)

// ExtractInventory reads an ingredient manifest from a photo. A reply without
// an inventory field yields an empty manifest.
func (g *Gateway) ExtractInventory(ctx context.Context, image []byte, mimeType string) ([]recipe.Ingredient, error) {
	req := &Request{
		Model:            g.cfg.Models.Vision,
		Parts:            []Part{BlobPart(mimeType, image), TextPart(inventoryPrompt)},
		ResponseMIMEType: mimeJSON,
		ResponseSchema:   InventorySchema,
	}

	return retry.Do(ctx, g.exec, g.cfg.Policies.Inventory, LabelInventory, func(ctx context.Context) ([]recipe.Ingredient, error) {
		resp, err := g.generate(ctx, LabelInventory, req)
		if err != nil {
			return nil, err
		}
		var manifest struct {
			Inventory []recipe.Ingredient `json:"inventory"`
		}
		if err := decodeJSON(resp.Text(), &manifest); err != nil {
			return nil, err
		}

		inventory := make([]recipe.Ingredient, 0, len(manifest.Inventory))
		for _, ing := range manifest.Inventory {
			if ing.Name == "" {
				continue
			}
			ing.Normalize()
			inventory = append(inventory, ing)
		}
		g.logger.Info("inventory extracted", zap.Int("items", len(inventory)))
		return inventory, nil
	})
}

// SynthesisPrompt renders the protocol request for the given working set.
func SynthesisPrompt(count int, ingredients []recipe.Ingredient, cuisine string, diet recipe.DietaryConfig) string {
	names := make([]string, 0, len(ingredients))
	for _, ing := range ingredients {
		names = append(names, ing.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Synthesize %d %s protocols for: %s. Include molecular substitutions and economic impact.",
		count, cuisine, strings.Join(names, ", "))
	if constraints := diet.Constraints(); len(constraints) > 0 {
		fmt.Fprintf(&sb, " Dietary constraints: %s.", strings.Join(constraints, ", "))
	}
	if allergies := strings.TrimSpace(diet.Allergies); allergies != "" {
		fmt.Fprintf(&sb, " Strictly avoid these allergens: %s.", allergies)
	}
	return sb.String()
}

// SynthesizeRecipes asks for protocols built from ingredients. Recipes
// without an id are given one.
func (g *Gateway) SynthesizeRecipes(ctx context.Context, ingredients []recipe.Ingredient, cuisine string, diet recipe.DietaryConfig) ([]*recipe.Recipe, error) {
	req := &Request{
		Model:             g.cfg.Models.Synthesis,
		SystemInstruction: synthesisPersona,
		Parts:             []Part{TextPart(SynthesisPrompt(g.cfg.ProtocolCount, ingredients, cuisine, diet))},
		ResponseMIMEType:  mimeJSON,
		ResponseSchema:    RecipeCatalogSchema,
		Search:            true,
	}

	return retry.Do(ctx, g.exec, g.cfg.Policies.Synthesis, LabelSynthesis, func(ctx context.Context) ([]*recipe.Recipe, error) {
		resp, err := g.generate(ctx, LabelSynthesis, req)
		if err != nil {
			return nil, err
		}
		var catalog struct {
			Protocols []*recipe.Recipe `json:"protocols"`
		}
		if err := decodeJSON(resp.Text(), &catalog); err != nil {
			return nil, err
		}

		recipes := make([]*recipe.Recipe, 0, len(catalog.Protocols))
		for _, r := range catalog.Protocols {
			if r == nil {
				continue
			}
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			r.FlavorProfile.Clamp()
			recipes = append(recipes, r)
		}
		g.logger.Info("protocols synthesized", zap.Int("count", len(recipes)), zap.String("cuisine", cuisine))
		return recipes, nil
	})
}

// RenderDish generates a plated photo of r as a data URI, or "" when the
// reply carries no image.
func (g *Gateway) RenderDish(ctx context.Context, r *recipe.Recipe) (string, error) {
	return g.renderImage(ctx, LabelDishImage, g.cfg.Policies.DishImage, fmt.Sprintf(dishPromptFmt, r.Title))
}

// RenderBlueprint generates a flat-lay counter schematic for r.
func (g *Gateway) RenderBlueprint(ctx context.Context, r *recipe.Recipe) (string, error) {
	return g.renderImage(ctx, LabelBlueprint, g.cfg.Policies.Blueprint, fmt.Sprintf(blueprintPromptFmt, r.Title))
}

func (g *Gateway) renderImage(ctx context.Context, label string, policy retry.Policy, prompt string) (string, error) {
	req := &Request{
		Model:              g.cfg.Models.Image,
		Parts:              []Part{TextPart(prompt)},
		ResponseModalities: []Modality{ModalityText, ModalityImage},
		AspectRatio:        imageAspectRatio,
	}

	return retry.Do(ctx, g.exec, policy, label, func(ctx context.Context) (string, error) {
		resp, err := g.generate(ctx, label, req)
		if err != nil {
			return "", err
		}
		blob, ok := resp.FirstBlob()
		if !ok {
			return "", nil
		}
		mimeType := blob.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return media.DataURI(mimeType, blob.Data), nil
	})
}

// ValidateStep asks whether the photo shows instruction carried out. The
// reply shape is assumed, not enforced.
func (g *Gateway) ValidateStep(ctx context.Context, image []byte, mimeType, instruction string) (*recipe.StepVerdict, error) {
	req := &Request{
		Model:            g.cfg.Models.Vision,
		Parts:            []Part{BlobPart(mimeType, image), TextPart(fmt.Sprintf(validationPrompt, instruction))},
		ResponseMIMEType: mimeJSON,
	}

	return retry.Do(ctx, g.exec, g.cfg.Policies.Validation, LabelValidation, func(ctx context.Context) (*recipe.StepVerdict, error) {
		resp, err := g.generate(ctx, LabelValidation, req)
		if err != nil {
			return nil, err
		}
		var verdict recipe.StepVerdict
		if err := decodeJSON(resp.Text(), &verdict); err != nil {
			return nil, err
		}
		return &verdict, nil
	})
}

// Speak synthesizes text and starts playback without waiting for it to end.
func (g *Gateway) Speak(ctx context.Context, text string) error {
	req := &Request{
		Model:              g.cfg.Models.Speech,
		Parts:              []Part{TextPart(text)},
		ResponseModalities: []Modality{ModalityAudio},
	}

	buf, err := retry.Do(ctx, g.exec, g.cfg.Policies.Speech, LabelSpeech, func(ctx context.Context) (*audio.Buffer, error) {
		resp, err := g.generate(ctx, LabelSpeech, req)
		if err != nil {
			return nil, err
		}
		blob, ok := resp.FirstBlob()
		if !ok {
			return nil, nil
		}
		return audio.DecodePCM16(blob.Data, audio.SpeechSampleRate, audio.SpeechChannelCount)
	})
	if err != nil {
		return err
	}
	if buf == nil {
		g.logger.Warn("speech reply carried no audio")
		return nil
	}
	if err := g.player.Play(buf); err != nil {
		return fmt.Errorf("failed to play speech: %w", err)
	}
	return nil
}

// ValidateCredential probes key with one minimal call on a throwaway
// backend. Any error means the key is unusable.
func (g *Gateway) ValidateCredential(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	b, err := g.factory(ctx, key)
	if err != nil {
		g.logger.Warn("credential probe failed", zap.Error(err))
		return false
	}
	if closer, ok := b.(io.Closer); ok {
		defer closer.Close()
	}
	if _, err := b.Generate(ctx, &Request{Model: g.cfg.Models.Chat, Parts: []Part{TextPart(probePrompt)}}); err != nil {
		g.logger.Warn("credential probe failed", zap.Error(err))
		return false
	}
	return true
}

// MolecularAffinity scores how well two to five ingredients pair.
func (g *Gateway) MolecularAffinity(ctx context.Context, names []string) (*recipe.AffinityResult, error) {
	if len(names) < MinAffinityIngredients || len(names) > MaxAffinityIngredients {
		return nil, ErrAffinityArity
	}
	req := &Request{
		Model:            g.cfg.Models.Vision,
		Parts:            []Part{TextPart(fmt.Sprintf(affinityPromptFmt, strings.Join(names, ", ")))},
		ResponseMIMEType: mimeJSON,
		ResponseSchema:   AffinitySchema,
	}

	return retry.Do(ctx, g.exec, g.cfg.Policies.Affinity, LabelAffinity, func(ctx context.Context) (*recipe.AffinityResult, error) {
		resp, err := g.generate(ctx, LabelAffinity, req)
		if err != nil {
			return nil, err
		}
		var result recipe.AffinityResult
		if err := decodeJSON(resp.Text(), &result); err != nil {
			return nil, err
		}
		switch {
		case result.Score < 0:
			result.Score = 0
		case result.Score > 100:
			result.Score = 100
		}
		return &result, nil
	})
}

// IsUnsupported reports whether err means the backend cannot serve the capability.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
