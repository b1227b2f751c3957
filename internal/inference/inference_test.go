package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"agridetect/internal/models"
)

type fakeGenerator struct {
	text     string
	err      error
	block    bool
	gotModel string
	gotCfg   *genai.GenerateContentConfig
	gotParts []*genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotCfg = cfg
	if len(contents) > 0 {
		f.gotParts = contents[0].Parts
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

const sampleResponse = `{
  "diseaseName": "Tomato Late Blight",
  "confidence": 92,
  "description": "Water-soaked lesions on leaves.",
  "treatment": ["Remove infected plants", " ", "Apply copper fungicide"],
  "severity": "Severe",
  "regionalName": "Tizón tardío",
  "regionalDescription": "Lesiones acuosas en las hojas.",
  "regionalTreatment": ["Eliminar plantas infectadas"]
}`

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, models.SeverityLow, SeverityFor(0.99, "Healthy Leaf"))
	assert.Equal(t, models.SeverityHigh, SeverityFor(0.95, "Apple Scab"))
	assert.Equal(t, models.SeverityMedium, SeverityFor(0.90, "Apple Scab"))
	assert.Equal(t, models.SeverityMedium, SeverityFor(0.80, "Apple Scab"))
	assert.Equal(t, models.SeverityLow, SeverityFor(0.75, "Apple Scab"))
}

func TestParseDiagnosis(t *testing.T) {
	d, err := ParseDiagnosis([]byte(sampleResponse))
	require.NoError(t, err)
	want := &models.Diagnosis{
		DiseaseName: "Tomato Late Blight",
		Description: "Water-soaked lesions on leaves.",
		Severity:    models.SeverityHigh,
		Treatment:   []string{"Remove infected plants", "Apply copper fungicide"},
		Confidence:  0.92,
		Regional: &models.RegionalText{
			Name:        "Tizón tardío",
			Description: "Lesiones acuosas en las hojas.",
			Treatment:   []string{"Eliminar plantas infectadas"},
		},
	}
	if diff := cmp.Diff(want, d, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("ParseDiagnosis mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDiagnosisNormalization(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		conf     float64
		severity models.Severity
	}{
		{"fraction kept", `{"diseaseName":"Apple Scab","confidence":0.8,"severity":"moderate"}`, 0.8, models.SeverityMedium},
		{"above 100 clamped", `{"diseaseName":"Apple Scab","confidence":250,"severity":"high"}`, 1, models.SeverityHigh},
		{"negative clamped", `{"diseaseName":"Apple Scab","confidence":-3,"severity":"low"}`, 0, models.SeverityLow},
		{"unknown severity falls back", `{"diseaseName":"Apple Scab","confidence":0.95,"severity":"???"}`, 0.95, models.SeverityHigh},
		{"healthy falls back low", `{"diseaseName":"Healthy Leaf","confidence":0.99,"severity":""}`, 0.99, models.SeverityLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ParseDiagnosis([]byte(tc.body))
			require.NoError(t, err)
			assert.InDelta(t, tc.conf, d.Confidence, 1e-9)
			assert.Equal(t, tc.severity, d.Severity)
			assert.Nil(t, d.Regional)
			assert.NotEmpty(t, d.Treatment)
		})
	}
}

func TestParseDiagnosisUnknownDiseaseTreatment(t *testing.T) {
	d, err := ParseDiagnosis([]byte("```json\n{\"diseaseName\":\"Mystery Wilt\",\"confidence\":0.5}\n```"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Consult local agricultural expert"}, d.Treatment)
}

func TestParseDiagnosisMalformed(t *testing.T) {
	for _, body := range []string{"", "   ", "not json", `{"confidence":0.5}`, `{"diseaseName":"  "}`} {
		_, err := ParseDiagnosis([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedResponse, body)
	}
}

func TestGeminiInferencer(t *testing.T) {
	gen := &fakeGenerator{text: sampleResponse}
	g := newGeminiInferencer(gen, "", time.Second, nil)

	d, err := g.Diagnose(context.Background(), Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "Tomato Late Blight", d.DiseaseName)
	assert.Equal(t, DefaultModel, gen.gotModel)
	assert.Equal(t, "gemini:"+DefaultModel, g.Name())

	require.NotNil(t, gen.gotCfg)
	assert.Equal(t, "application/json", gen.gotCfg.ResponseMIMEType)
	require.NotNil(t, gen.gotCfg.ResponseSchema)
	assert.Len(t, gen.gotCfg.ResponseSchema.Required, 8)
	assert.Contains(t, gen.gotCfg.ResponseSchema.Properties, "regionalTreatment")

	require.Len(t, gen.gotParts, 2)
	assert.Contains(t, gen.gotParts[0].Text, "Spanish translation")
	require.NotNil(t, gen.gotParts[1].InlineData)
	assert.Equal(t, "image/png", gen.gotParts[1].InlineData.MIMEType)
}

func TestGeminiInferencerErrors(t *testing.T) {
	g := newGeminiInferencer(&fakeGenerator{err: errors.New("quota exceeded")}, "m", time.Second, nil)
	_, err := g.Diagnose(context.Background(), Image{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrInferenceFailed)

	g = newGeminiInferencer(&fakeGenerator{text: "{}"}, "m", time.Second, nil)
	_, err = g.Diagnose(context.Background(), Image{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	g = newGeminiInferencer(&fakeGenerator{block: true}, "m", 20*time.Millisecond, nil)
	_, err = g.Diagnose(context.Background(), Image{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrInferenceFailed)
}

func TestNewGeminiInferencerRequiresKey(t *testing.T) {
	_, err := NewGeminiInferencer(context.Background(), "", "", 0, nil)
	assert.Error(t, err)
}

func TestLocalInferencerDeterministic(t *testing.T) {
	l := NewLocalInferencer(nil, nil)
	img := Image{Data: []byte("leaf photo bytes")}

	a, err := l.Diagnose(context.Background(), img)
	require.NoError(t, err)
	b, err := l.Diagnose(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.GreaterOrEqual(t, a.Confidence, 0.75)
	assert.LessOrEqual(t, a.Confidence, 0.98)
	assert.Equal(t, SeverityFor(a.Confidence, a.DiseaseName), a.Severity)
	assert.Equal(t, TreatmentFor(a.DiseaseName), a.Treatment)
	assert.Equal(t, "local", l.Name())

	_, err = l.Diagnose(context.Background(), Image{})
	assert.ErrorIs(t, err, ErrInferenceFailed)
}

type fixedKB []models.Disease

func (k fixedKB) List(context.Context) ([]models.Disease, error) { return k, nil }

func TestLocalInferencerUsesKnowledgeBase(t *testing.T) {
	l := NewLocalInferencer(fixedKB{{Name: "Rice Blast", Treatment: []string{"Drain fields"}}}, nil)
	d, err := l.Diagnose(context.Background(), Image{Data: []byte{9, 9}})
	require.NoError(t, err)
	assert.Equal(t, "Rice Blast", d.DiseaseName)
	assert.Equal(t, []string{"Drain fields"}, d.Treatment)
}

func TestDefaultDiseases(t *testing.T) {
	all := DefaultDiseases()
	require.Len(t, all, 7)
	assert.Equal(t, "Apple Scab", all[0].Name)
	for _, d := range all {
		assert.Len(t, d.Treatment, 3, d.Name)
	}
}

type recordingObserver struct {
	provider string
	err      error
	calls    int
}

func (r *recordingObserver) ObserveInference(provider string, _ time.Duration, err error) {
	r.provider, r.err = provider, err
	r.calls++
}

func TestWithObserver(t *testing.T) {
	obs := &recordingObserver{}
	inf := WithObserver(NewLocalInferencer(nil, nil), obs)
	_, err := inf.Diagnose(context.Background(), Image{Data: []byte{1}})
	require.NoError(t, err)
	_, err = inf.Diagnose(context.Background(), Image{})
	require.Error(t, err)

	assert.Equal(t, 2, obs.calls)
	assert.Equal(t, "local", obs.provider)
	assert.ErrorIs(t, obs.err, ErrInferenceFailed)
	assert.Equal(t, "local", inf.Name())
}
