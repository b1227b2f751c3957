// Package inference turns a leaf photo into a diagnosis, either through the
// Gemini API or through the offline knowledge-base classifier.
package inference

import (
	"context"
	"errors"
	"strings"

	"agridetect/internal/models"
)

var (
	ErrInferenceFailed   = errors.New("inference failed")
	ErrMalformedResponse = errors.New("malformed model response")
)

type Image struct {
	Data     []byte
	MIMEType string
}

type Inferencer interface {
	Diagnose(ctx context.Context, img Image) (*models.Diagnosis, error)
	Name() string
}

// SeverityFor maps a confidence score to a severity. Healthy classes are always low.
func SeverityFor(confidence float64, disease string) models.Severity {
	if strings.Contains(disease, "Healthy") {
		return models.SeverityLow
	}
	switch {
	case confidence > 0.90:
		return models.SeverityHigh
	case confidence > 0.75:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
