// Package config holds the environment and exit helpers shared by commands.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables into target,
// which must be a pointer to a struct with `env` tags. Fields whose variable
// is unset and that carry no envDefault keep their current value.
func ParseEnv(target any) error {
	if target == nil {
		return errors.New("parse env: target is required")
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
