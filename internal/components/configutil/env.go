package configutil

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ApplyEnv overwrites every field tagged `env:"NAME"`, nested structs
// included, with NAME from `environment` when it is set and non-empty. A nil
// `environment` reads the process environment.
func ApplyEnv(ptr any, environment map[string]string) error {
	err := env.ParseWithOptions(ptr, env.Options{Environment: environment})
	if err != nil {
		return fmt.Errorf("apply env: %w", err)
	}
	return nil
}
