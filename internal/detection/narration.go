package detection

import (
	"context"
	"fmt"
	"math"
	"strings"

	"agridetect/internal/models"
)

// Narration is text meant for a speech engine plus the voice language tag.
type Narration struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

var voiceTags = map[string]string{
	"en": "en-US",
	"es": "es-ES",
}

var spanishSeverity = map[models.Severity]string{
	models.SeverityLow:    "baja",
	models.SeverityMedium: "media",
	models.SeverityHigh:   "alta",
}

// NarrationFor renders a detection for reading aloud. Spanish uses the regional text when present.
func NarrationFor(d *models.Detection, lang string) (*Narration, error) {
	lang = normalizeLang(lang)
	tag, ok := voiceTags[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	diag := Localize(d.Diagnosis, lang)
	pct := int(math.Round(diag.Confidence * 100))

	var b strings.Builder
	switch lang {
	case "es":
		fmt.Fprintf(&b, "Diagnóstico: %s. Gravedad %s. Confianza del %d por ciento.", diag.DiseaseName, spanishSeverity[diag.Severity], pct)
		if diag.Description != "" {
			b.WriteString(" " + sentence(diag.Description))
		}
		if len(diag.Treatment) > 0 {
			b.WriteString(" Tratamiento recomendado: " + joinSteps(diag.Treatment))
		}
	default:
		fmt.Fprintf(&b, "Diagnosis: %s. %s severity. Confidence %d percent.", diag.DiseaseName, titleCase(string(diag.Severity)), pct)
		if diag.Description != "" {
			b.WriteString(" " + sentence(diag.Description))
		}
		if len(diag.Treatment) > 0 {
			b.WriteString(" Recommended treatment: " + joinSteps(diag.Treatment))
		}
	}
	return &Narration{Text: b.String(), Language: tag}, nil
}

// Localize returns the diagnosis in lang. For "es" the regional fields replace the
// English ones where present; any other language returns the diagnosis unchanged.
func Localize(d models.Diagnosis, lang string) models.Diagnosis {
	if normalizeLang(lang) != "es" || d.Regional == nil {
		return d
	}
	out := d
	if d.Regional.Name != "" {
		out.DiseaseName = d.Regional.Name
	}
	if d.Regional.Description != "" {
		out.Description = d.Regional.Description
	}
	if len(d.Regional.Treatment) > 0 {
		out.Treatment = d.Regional.Treatment
	}
	return out
}

// SupportedLanguage reports whether lang has a voice tag.
func SupportedLanguage(lang string) bool {
	_, ok := voiceTags[normalizeLang(lang)]
	return ok
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "en"
	}
	// accept full tags such as es-MX
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func joinSteps(steps []string) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, strings.TrimRight(strings.TrimSpace(s), "."))
	}
	return strings.Join(parts, ". ") + "."
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Narration loads one of the user's detections and renders it in lang.
func (s *Service) Narration(ctx context.Context, userID, id, lang string) (*Narration, error) {
	if !SupportedLanguage(lang) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return NarrationFor(d, lang)
}
