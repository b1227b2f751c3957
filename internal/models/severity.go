package models

import (
	"fmt"
	"strings"
)

// Severity is the categorical risk label attached to a diagnosis.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var severityAliases = map[string]Severity{
	"low":      SeverityLow,
	"none":     SeverityLow,
	"healthy":  SeverityLow,
	"minor":    SeverityLow,
	"medium":   SeverityMedium,
	"moderate": SeverityMedium,
	"high":     SeverityHigh,
	"severe":   SeverityHigh,
	"critical": SeverityHigh,
}

// ParseSeverity normalizes model output such as "High", " moderate " or "critical".
func ParseSeverity(s string) (Severity, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimSuffix(key, " risk")
	if sev, ok := severityAliases[key]; ok {
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Rank orders severities for sorting; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}
