package models

import "time"

// ===== Diagnosis =====

// RegionalText is the Spanish rendition returned alongside a diagnosis.
type RegionalText struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Treatment   []string `json:"treatment"`
}

type Diagnosis struct {
	DiseaseName string        `json:"disease_name"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	Treatment   []string      `json:"treatment"`
	Confidence  float64       `json:"confidence"`
	Regional    *RegionalText `json:"regional,omitempty"`
}

// ===== Detection =====

const (
	SourceLive = "live"
	SourceSync = "sync"
)

type Detection struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ImagePath  string    `json:"-"`
	ClientRef  string    `json:"client_ref,omitempty"`
	Source     string    `json:"source"`
	Diagnosis  Diagnosis `json:"diagnosis"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Geotagged reports whether both coordinates are present.
func (d *Detection) Geotagged() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// Disease is a knowledge-base entry used by the local classifier and the admin console.
type Disease struct {
	Name      string    `json:"name"`
	Treatment []string  `json:"treatment"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ===== Analytics =====

type DiseaseCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalDetections int              `json:"total_detections"`
	TotalUsers      int              `json:"total_users"`
	ActiveUsers     int              `json:"active_users"`
	BySeverity      map[Severity]int `json:"by_severity"`
	TopDiseases     []DiseaseCount   `json:"top_diseases"`
	AvgConfidence   float64          `json:"avg_confidence"`
	Since           time.Time        `json:"since"`
}

type MapPoint struct {
	ID       string    `json:"id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Disease  string    `json:"disease"`
	Severity Severity  `json:"severity"`
	Date     time.Time `json:"date"`
}
