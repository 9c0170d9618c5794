// Package id generates and validates run identifiers.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a random version 4 UUID in canonical lowercase form.
func NewRunID() string {
	return uuid.NewString()
}

// NormalizeRunID trims and validates a caller-supplied run id. Run ids are
// stored as primary keys, so anything that is not a UUID is rejected.
func NormalizeRunID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("run id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid run id %q: %w", raw, err)
	}
	return parsed.String(), nil
}
