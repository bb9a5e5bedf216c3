package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, reads the secret from that file path.
// Otherwise falls back to the value of envName.
// Returns empty string if neither is set.
// Returns an error if the file cannot be read.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return os.Getenv(envName), nil
}

// ResolveCredentials fills the API users and the Postgres password from
// SOUNDSTAGE_* variables or their *_FILE variants.
func (c *AppConfig) ResolveCredentials() error {
	targets := []struct {
		env string
		dst *string
	}{
		{EnvPrefix + "ADMIN_USER", &c.API.AdminUser},
		{EnvPrefix + "ADMIN_PASS", &c.API.AdminPass},
		{EnvPrefix + "OPERATOR_USER", &c.API.OperatorUser},
		{EnvPrefix + "OPERATOR_PASS", &c.API.OperatorPass},
		{EnvPrefix + "PG_PASSWORD", &c.Postgres.Password},
	}
	for _, t := range targets {
		v, err := ResolveSecret(t.env)
		if err != nil {
			return err
		}
		if v != "" {
			*t.dst = v
		}
	}
	return nil
}
