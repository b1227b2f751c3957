package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"low":       SeverityLow,
		" High ":    SeverityHigh,
		"moderate":  SeverityMedium,
		"Critical":  SeverityHigh,
		"high risk": SeverityHigh,
		"healthy":   SeverityLow,
	}
	for in, want := range cases {
		got, err := ParseSeverity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSeverity("catastrophic")
	assert.Error(t, err)
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
	assert.False(t, Severity("bogus").Valid())
}

func TestIDs(t *testing.T) {
	assert.True(t, ValidID(NewUserID()))
	assert.True(t, ValidID(NewDetectionID()))
	assert.True(t, ValidID(NewPendingID()))
	assert.False(t, ValidID("d--not-a-uuid"))
	assert.False(t, ValidID("x--"+NewUserID()[3:]))
}

func TestGeotagged(t *testing.T) {
	lat, lng := 38.29, -122.28
	d := &Detection{Latitude: &lat}
	assert.False(t, d.Geotagged())
	d.Longitude = &lng
	assert.True(t, d.Geotagged())
}

func TestValidateCoordinates(t *testing.T) {
	lat, lng := 45.0, -120.0
	bad := 200.0
	assert.NoError(t, ValidateCoordinates(nil, nil))
	assert.NoError(t, ValidateCoordinates(&lat, &lng))
	assert.ErrorIs(t, ValidateCoordinates(&lat, nil), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateCoordinates(&bad, &lng), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateCoordinates(&lat, &bad), ErrInvalidCoordinates)

	nan, inf, negInf := math.NaN(), math.Inf(1), math.Inf(-1)
	assert.ErrorIs(t, ValidateCoordinates(&nan, &nan), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateCoordinates(&lat, &nan), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateCoordinates(&inf, &lng), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateCoordinates(&lat, &negInf), ErrInvalidCoordinates)
}
