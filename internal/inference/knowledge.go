package inference

import (
	"context"
	"sort"

	"agridetect/internal/models"
)

var fallbackTreatment = []string{"Consult local agricultural expert"}

var defaultTreatments = map[string][]string{
	"Healthy Leaf": {
		"Maintain current fertilization schedule",
		"Monitor for new pests weekly",
		"Ensure consistent watering",
	},
	"Tomato Bacterial Spot": {
		"Apply copper-based fungicides",
		"Avoid overhead irrigation",
		"Remove and destroy infected debris",
	},
	"Potato Early Blight": {
		"Practice 3-year crop rotation",
		"Apply chlorothalonil or mancozeb",
		"Space plants to improve air circulation",
	},
	"Corn Common Rust": {
		"Plant resistant hybrids",
		"Apply foliar fungicides early in the season",
		"Manage weeds that host rust fungi",
	},
	"Apple Scab": {
		"Prune trees to increase sun exposure",
		"Rake and destroy fallen leaves",
		"Apply sulfur-based sprays during dormant season",
	},
	"Grape Black Rot": {
		"Remove mummified berries",
		"Apply fungicides starting at bud break",
		"Improve drainage around the vine",
	},
	"Wheat Leaf Rust": {
		"Use rust-resistant wheat varieties",
		"Early planting to avoid peak spore levels",
		"Foliar fungicide application if infection > 5%",
	},
}

// KnowledgeBase lists the disease classes the local classifier can emit.
type KnowledgeBase interface {
	List(ctx context.Context) ([]models.Disease, error)
}

// DefaultDiseases returns the built-in classes sorted by name.
func DefaultDiseases() []models.Disease {
	out := make([]models.Disease, 0, len(defaultTreatments))
	for name, steps := range defaultTreatments {
		out = append(out, models.Disease{Name: name, Treatment: append([]string(nil), steps...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TreatmentFor looks up the built-in treatment list, falling back to a generic step.
func TreatmentFor(disease string) []string {
	if steps, ok := defaultTreatments[disease]; ok {
		return append([]string(nil), steps...)
	}
	return append([]string(nil), fallbackTreatment...)
}

// StaticKnowledgeBase serves DefaultDiseases when no database is attached.
type StaticKnowledgeBase struct{}

func (StaticKnowledgeBase) List(context.Context) ([]models.Disease, error) {
	return DefaultDiseases(), nil
}
