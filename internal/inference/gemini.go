package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"agridetect/internal/models"
)

const (
	DefaultModel   = "gemini-3-flash-preview"
	DefaultTimeout = 30 * time.Second

	diagnosePrompt = "Analyze this agricultural plant image. Identify any diseases or deficiencies. " +
		"Provide details in JSON format. Include a high-quality Spanish translation (Regional Language) " +
		"for the disease name, description, and treatment steps."
)

// contentGenerator is the slice of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiInferencer struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiInferencer creates a client for the Gemini API.
func NewGeminiInferencer(ctx context.Context, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*GeminiInferencer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiInferencer(client.Models, model, timeout, logger), nil
}

func newGeminiInferencer(gen contentGenerator, model string, timeout time.Duration, logger *zap.Logger) *GeminiInferencer {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiInferencer{models: gen, model: model, timeout: timeout, logger: logger}
}

func (g *GeminiInferencer) Name() string { return "gemini:" + g.model }

func (g *GeminiInferencer) Diagnose(ctx context.Context, img Image) (*models.Diagnosis, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(diagnosePrompt),
			genai.NewPartFromBytes(img.Data, mime),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   diagnosisSchema(),
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrInferenceFailed, g.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	d, err := ParseDiagnosis([]byte(resp.Text()))
	if err != nil {
		g.logger.Warn("unparseable model response", zap.String("model", g.model), zap.Error(err))
		return nil, err
	}
	g.logger.Debug("gemini diagnosis",
		zap.String("disease", d.DiseaseName),
		zap.Float64("confidence", d.Confidence),
		zap.Duration("took", time.Since(start)))
	return d, nil
}

func diagnosisSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	list := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"diseaseName":         str,
			"confidence":          {Type: genai.TypeNumber},
			"description":         str,
			"treatment":           list,
			"severity":            {Type: genai.TypeString, Description: "low, medium, high"},
			"regionalName":        str,
			"regionalDescription": str,
			"regionalTreatment":   list,
		},
		Required: []string{
			"diseaseName", "confidence", "description", "treatment", "severity",
			"regionalName", "regionalDescription", "regionalTreatment",
		},
	}
}
