package recipe

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Ingredient is one item of a manifest extracted from an inventory photo.
type Ingredient struct {
	Name           string    `json:"name"`
	Quantity       string    `json:"quantity"`
	Confidence     float64   `json:"confidence"`
	Freshness      int       `json:"freshness"`
	Category       string    `json:"category"`
	ScientificName string    `json:"scientificName,omitempty"`
	EstimatedMass  string    `json:"estimatedMass,omitempty"`
	BoundingBox    []float64 `json:"boundingBox,omitempty"`
	DaysToConsume  *int      `json:"daysToConsume,omitempty"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for Ingredient.
// Models sometimes report freshness as a float, so it is clamped to [0,100]
// and rounded here.
func (i *Ingredient) UnmarshalJSON(data []byte) error {
	type Alias Ingredient // Create an alias to avoid infinite recursion
	aux := &struct {
		Freshness float64 `json:"freshness"`
		*Alias
	}{
		Alias: (*Alias)(i),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	i.Freshness = int(math.Round(clampFloat(aux.Freshness, 0, 100)))
	i.Name = strings.TrimSpace(i.Name)
	return nil
}

// Normalize clamps confidence to [0,1] and freshness to [0,100]. A confidence
// reported on a percentage scale is rescaled first.
func (i *Ingredient) Normalize() {
	if i.Confidence > 1 && i.Confidence <= 100 {
		i.Confidence /= 100
	}
	i.Confidence = clampFloat(i.Confidence, 0, 1)
	i.Freshness = clampInt(i.Freshness, 0, 100)
}

// Difficulty of a protocol.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// BeverageType classifies a beverage pairing.
type BeverageType string

const (
	BeverageWine         BeverageType = "Wine"
	BeverageBeer         BeverageType = "Beer"
	BeverageCocktail     BeverageType = "Cocktail"
	BeverageNonAlcoholic BeverageType = "Non-Alcoholic"
)

// Recipe represents a synthesized protocol.
type Recipe struct {
	ID                     string                  `json:"id,omitempty"`
	CompletedAt            *time.Time              `json:"completedAt,omitempty"`
	Title                  string                  `json:"title"`
	Description            string                  `json:"description"`
	Ingredients            []string                `json:"ingredients"`
	MissingIngredients     []string                `json:"missingIngredients"`
	MolecularSubstitutions []MolecularSubstitution `json:"molecularSubstitutions,omitempty"`
	EconomicImpact         *EconomicImpact         `json:"economicImpact,omitempty"`
	Instructions           []string                `json:"instructions"`
	MatchScore             float64                 `json:"matchScore"`
	ScientificRationale    string                  `json:"scientificRationale"`
	PrepTime               string                  `json:"prepTime"`
	Difficulty             Difficulty              `json:"difficulty"`
	Nutrients              []Nutrient              `json:"nutrients"`
	FlavorProfile          FlavorProfile           `json:"flavorProfile"`
	WebSources             []string                `json:"webSources,omitempty"`
	BeveragePairing        BeveragePairing         `json:"beveragePairing"`
	BeverageImageURL       string                  `json:"beverageImageUrl,omitempty"`
	PlatingTips            string                  `json:"platingTips"`
	MiseEnPlace            []string                `json:"miseEnPlace"`
	ImageURL               string                  `json:"imageUrl,omitempty"`
	BlueprintImageURL      string                  `json:"blueprintImageUrl,omitempty"`
}

// Archived reports whether the recipe has been written to the journal.
func (r *Recipe) Archived() bool {
	return r.CompletedAt != nil && !r.CompletedAt.IsZero()
}

// Clone returns a deep copy of the recipe.
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	c := *r
	c.Ingredients = append([]string(nil), r.Ingredients...)
	c.MissingIngredients = append([]string(nil), r.MissingIngredients...)
	c.MolecularSubstitutions = append([]MolecularSubstitution(nil), r.MolecularSubstitutions...)
	c.Instructions = append([]string(nil), r.Instructions...)
	c.Nutrients = append([]Nutrient(nil), r.Nutrients...)
	c.WebSources = append([]string(nil), r.WebSources...)
	c.MiseEnPlace = append([]string(nil), r.MiseEnPlace...)
	if r.EconomicImpact != nil {
		ei := *r.EconomicImpact
		c.EconomicImpact = &ei
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// MolecularSubstitution suggests a chemically related replacement.
type MolecularSubstitution struct {
	Target       string `json:"target"`
	Substitute   string `json:"substitute"`
	Rationale    string `json:"rationale"`
	ChemicalLink string `json:"chemicalLink"`
}

// EconomicImpact holds display strings such as "$4.20" and "35%".
type EconomicImpact struct {
	SavingsValue   string `json:"savingsValue"`
	WasteReduction string `json:"wasteReduction"`
}

// Nutrient is one line of the nutrient table.
type Nutrient struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// FlavorProfile scores six taste axes on a 0-100 scale.
type FlavorProfile struct {
	Umami  float64 `json:"umami"`
	Sweet  float64 `json:"sweet"`
	Sour   float64 `json:"sour"`
	Salty  float64 `json:"salty"`
	Bitter float64 `json:"bitter"`
	Spicy  float64 `json:"spicy"`
}

// Clamp bounds every axis to [0,100].
func (f *FlavorProfile) Clamp() {
	for _, v := range []*float64{&f.Umami, &f.Sweet, &f.Sour, &f.Salty, &f.Bitter, &f.Spicy} {
		*v = clampFloat(*v, 0, 100)
	}
}

// BeveragePairing recommends a drink for the dish.
type BeveragePairing struct {
	Name        string       `json:"name"`
	Type        BeverageType `json:"type"`
	Description string       `json:"description"`
}

// DietaryConfig holds the dietary toggles and free-text allergies.
type DietaryConfig struct {
	Vegan      bool   `json:"vegan"`
	Vegetarian bool   `json:"vegetarian"`
	GlutenFree bool   `json:"glutenFree"`
	Keto       bool   `json:"keto"`
	Paleo      bool   `json:"paleo"`
	Allergies  string `json:"allergies"`
	ZeroWaste  bool   `json:"zeroWaste"`
}

// Constraints lists the active toggles in display form.
func (d DietaryConfig) Constraints() []string {
	var out []string
	for _, c := range []struct {
		on   bool
		name string
	}{
		{d.Vegan, "vegan"},
		{d.Vegetarian, "vegetarian"},
		{d.GlutenFree, "gluten-free"},
		{d.Keto, "keto"},
		{d.Paleo, "paleo"},
		{d.ZeroWaste, "zero-waste"},
	} {
		if c.on {
			out = append(out, c.name)
		}
	}
	return out
}

// AffinityResult is the molecular compatibility of a small ingredient set.
type AffinityResult struct {
	Score               float64  `json:"score"`
	Rationale           string   `json:"rationale"`
	BridgingIngredients []string `json:"bridgingIngredients"`
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

// ChatMessage is one entry of a sous-chef conversation.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StepVerdict is the camera verification outcome for one instruction.
type StepVerdict struct {
	Status   string `json:"status"`
	Feedback string `json:"feedback"`
}

// Passed reports whether the step was accepted.
func (v *StepVerdict) Passed() bool {
	return v != nil && strings.EqualFold(strings.TrimSpace(v.Status), "pass")
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
