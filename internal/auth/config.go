// Package auth validates the JWT bearer tokens issued by the identity
// provider in front of the back office.
package auth

import (
	"fmt"
	"os"
)

// Config holds the identity provider settings.
type Config struct {
	// JWKSURL is where the provider publishes its signing keys.
	JWKSURL string
	// Issuer is the expected `iss` claim.
	Issuer string
	// Audience is the expected `aud` claim.
	Audience string
}

// NewConfigFromEnv creates auth config from environment variables.
func NewConfigFromEnv() (*Config, error) {
	config := &Config{
		JWKSURL:  os.Getenv("AUTH_JWKS_URL"),
		Issuer:   os.Getenv("AUTH_ISSUER"),
		Audience: os.Getenv("AUTH_AUDIENCE"),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate ensures all required configuration is present.
func (c *Config) Validate() error {
	if c.JWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL environment variable is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("AUTH_ISSUER environment variable is required")
	}
	if c.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE environment variable is required")
	}
	return nil
}
