package models

import (
	"strings"

	"github.com/google/uuid"
)

const (
	userPrefix      = "u--"
	detectionPrefix = "d--"
	pendingPrefix   = "p--"
)

func NewUserID() string      { return userPrefix + uuid.New().String() }
func NewDetectionID() string { return detectionPrefix + uuid.New().String() }
func NewPendingID() string   { return pendingPrefix + uuid.New().String() }

// ValidID checks the prefix and UUID body of an identifier minted above.
func ValidID(id string) bool {
	for _, p := range []string{userPrefix, detectionPrefix, pendingPrefix} {
		if strings.HasPrefix(id, p) {
			_, err := uuid.Parse(strings.TrimPrefix(id, p))
			return err == nil
		}
	}
	return false
}
