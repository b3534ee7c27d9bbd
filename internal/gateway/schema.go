package gateway

import "github.com/google/generative-ai-go/genai"

func str() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
func num() *genai.Schema { return &genai.Schema{Type: genai.TypeNumber} }
func strs() *genai.Schema { return &genai.Schema{Type: genai.TypeArray, Items: str()} }
func enum(values ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Enum: values}
}

func object(props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func arrayOf(items *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: items}
}

// InventorySchema declares {inventory: [Ingredient]}.
var InventorySchema = object(map[string]*genai.Schema{
	"inventory": arrayOf(object(map[string]*genai.Schema{
		"name":           str(),
		"quantity":       str(),
		"confidence":     num(),
		"freshness":      num(),
		"category":       str(),
		"scientificName": str(),
		"estimatedMass":  str(),
		"boundingBox":    arrayOf(num()),
		"daysToConsume":  num(),
	}, "name", "quantity", "confidence", "freshness", "category")),
}, "inventory")

// RecipeCatalogSchema declares {protocols: [Recipe]}.
var RecipeCatalogSchema = object(map[string]*genai.Schema{
	"protocols": arrayOf(object(map[string]*genai.Schema{
		"title":              str(),
		"description":        str(),
		"ingredients":        strs(),
		"missingIngredients": strs(),
		"molecularSubstitutions": arrayOf(object(map[string]*genai.Schema{
			"target":       str(),
			"substitute":   str(),
			"rationale":    str(),
			"chemicalLink": str(),
		})),
		"economicImpact": object(map[string]*genai.Schema{
			"savingsValue":   str(),
			"wasteReduction": str(),
		}),
		"instructions":        strs(),
		"matchScore":          num(),
		"scientificRationale": str(),
		"prepTime":            str(),
		"difficulty":          enum("Easy", "Medium", "Hard"),
		"flavorProfile": object(map[string]*genai.Schema{
			"umami":  num(),
			"sweet":  num(),
			"sour":   num(),
			"salty":  num(),
			"bitter": num(),
			"spicy":  num(),
		}),
		"beveragePairing": object(map[string]*genai.Schema{
			"name":        str(),
			"type":        enum("Wine", "Beer", "Cocktail", "Non-Alcoholic"),
			"description": str(),
		}),
		"platingTips": str(),
		"miseEnPlace": strs(),
		"nutrients": arrayOf(object(map[string]*genai.Schema{
			"name":   str(),
			"amount": num(),
			"unit":   str(),
		})),
	}, "title", "ingredients", "instructions", "scientificRationale", "flavorProfile", "economicImpact")),
}, "protocols")

// AffinitySchema declares the molecular affinity result.
var AffinitySchema = object(map[string]*genai.Schema{
	"score":               num(),
	"rationale":           str(),
	"bridgingIngredients": strs(),
})
