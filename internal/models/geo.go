package models

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidateCoordinates requires both or neither coordinate, each within range.
func ValidateCoordinates(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return fmt.Errorf("%w: latitude and longitude must be provided together", ErrInvalidCoordinates)
	}
	if lat == nil {
		return nil
	}
	if !finite(*lat) || !finite(*lng) {
		return fmt.Errorf("%w: coordinates must be finite numbers", ErrInvalidCoordinates)
	}
	if *lat < -90 || *lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, *lat)
	}
	if *lng < -180 || *lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, *lng)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
