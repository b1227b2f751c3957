package detection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agridetect/internal/models"
)

func sampleDetection() *models.Detection {
	return &models.Detection{
		ID: "d--1",
		Diagnosis: models.Diagnosis{
			DiseaseName: "Potato Early Blight",
			Description: "Concentric rings on older leaves",
			Severity:    models.SeverityHigh,
			Treatment:   []string{"Practice 3-year crop rotation", "Apply chlorothalonil or mancozeb."},
			Confidence:  0.934,
			Regional: &models.RegionalText{
				Name:        "Tizón temprano",
				Description: "Anillos concéntricos en hojas viejas",
				Treatment:   []string{"Rotación de cultivos"},
			},
		},
	}
}

func TestNarrationEnglish(t *testing.T) {
	n, err := NarrationFor(sampleDetection(), "en")
	require.NoError(t, err)
	assert.Equal(t, "en-US", n.Language)
	assert.Equal(t, "Diagnosis: Potato Early Blight. High severity. Confidence 93 percent. "+
		"Concentric rings on older leaves. Recommended treatment: Practice 3-year crop rotation. "+
		"Apply chlorothalonil or mancozeb.", n.Text)
}

func TestNarrationSpanish(t *testing.T) {
	n, err := NarrationFor(sampleDetection(), "es-MX")
	require.NoError(t, err)
	assert.Equal(t, "es-ES", n.Language)
	assert.Contains(t, n.Text, "Tizón temprano")
	assert.Contains(t, n.Text, "Gravedad alta")
	assert.Contains(t, n.Text, "Rotación de cultivos.")
	assert.NotContains(t, n.Text, "Potato")
}

func TestNarrationDefaultsAndErrors(t *testing.T) {
	n, err := NarrationFor(sampleDetection(), "")
	require.NoError(t, err)
	assert.Equal(t, "en-US", n.Language)

	_, err = NarrationFor(sampleDetection(), "fr")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	noRegional := sampleDetection()
	noRegional.Diagnosis.Regional = nil
	n, err = NarrationFor(noRegional, "es")
	require.NoError(t, err)
	assert.Contains(t, n.Text, "Potato Early Blight")
}

func TestLocalize(t *testing.T) {
	d := sampleDetection().Diagnosis
	es := Localize(d, "es")
	assert.Equal(t, "Tizón temprano", es.DiseaseName)
	assert.Equal(t, []string{"Rotación de cultivos"}, es.Treatment)
	assert.Equal(t, d.Confidence, es.Confidence)

	en := Localize(d, "en")
	assert.Equal(t, d, en)
	assert.Equal(t, "Potato Early Blight", d.DiseaseName)
}

func TestServiceNarration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, _, err := f.svc.Detect(ctx, "u--1", Submission{Image: testPNG(t)})
	require.NoError(t, err)

	n, err := f.svc.Narration(ctx, "u--1", d.ID, "es")
	require.NoError(t, err)
	assert.Contains(t, n.Text, "Sarna del manzano")

	_, err = f.svc.Narration(ctx, "u--2", d.ID, "en")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Narration(ctx, "u--1", d.ID, "de")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}
