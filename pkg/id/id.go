package id

import (
	"strings"

	"github.com/google/uuid"
)

func Generate() string {
	return uuid.New().String()
}

// RequestID returns a compact correlation id for request logging.
func RequestID() string {
	return "req_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
}

func IsValidUUID(id string) (uuid.UUID, error) {
	return uuid.Parse(id)
}
