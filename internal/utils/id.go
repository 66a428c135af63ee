package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID for requests
func GenerateID() string {
	return uuid.NewString()
}

// TrialID names one member of a batch, e.g. "<batch>_003".
func TrialID(batchID string, index int) string {
	return fmt.Sprintf("%s_%03d", batchID, index)
}

// ValidID reports whether id can be used as a client supplied job id.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
