package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"agridetect/internal/models"
)

// geminiPayload mirrors the response schema requested from the model.
type geminiPayload struct {
	DiseaseName         string   `json:"diseaseName"`
	Confidence          float64  `json:"confidence"`
	Description         string   `json:"description"`
	Treatment           []string `json:"treatment"`
	Severity            string   `json:"severity"`
	RegionalName        string   `json:"regionalName"`
	RegionalDescription string   `json:"regionalDescription"`
	RegionalTreatment   []string `json:"regionalTreatment"`
}

// ParseDiagnosis decodes the model's JSON answer into a normalized Diagnosis.
func ParseDiagnosis(raw []byte) (*models.Diagnosis, error) {
	raw = bytes.TrimSpace(stripCodeFence(raw))
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	var p geminiPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	name := strings.TrimSpace(p.DiseaseName)
	if name == "" {
		return nil, fmt.Errorf("%w: missing disease name", ErrMalformedResponse)
	}

	conf := normalizeConfidence(p.Confidence)
	sev, err := models.ParseSeverity(p.Severity)
	if err != nil {
		sev = SeverityFor(conf, name)
	}

	d := &models.Diagnosis{
		DiseaseName: name,
		Description: strings.TrimSpace(p.Description),
		Severity:    sev,
		Treatment:   cleanSteps(p.Treatment),
		Confidence:  conf,
	}
	if len(d.Treatment) == 0 {
		d.Treatment = TreatmentFor(name)
	}

	regional := &models.RegionalText{
		Name:        strings.TrimSpace(p.RegionalName),
		Description: strings.TrimSpace(p.RegionalDescription),
		Treatment:   cleanSteps(p.RegionalTreatment),
	}
	if regional.Name != "" || regional.Description != "" || len(regional.Treatment) > 0 {
		d.Regional = regional
	}
	return d, nil
}

// normalizeConfidence accepts 0..1 or a percentage in (1,100].
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		c /= 100
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func cleanSteps(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return raw
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(s)
}
