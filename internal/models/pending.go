package models

import "time"

// PendingDetection is an image captured while offline, waiting to be replayed.
type PendingDetection struct {
	ID        string    `json:"id"`
	Image     []byte    `json:"image"`
	Filename  string    `json:"filename,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}
