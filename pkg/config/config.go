// Package config loads the gateway configuration from the environment,
// with optional .env files for local development.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything the gateway needs to talk to the issuer and its cache.
type Config struct {
	// Issuer is the identity provider base URL; it doubles as the expected
	// iss claim on incoming tokens.
	Issuer string
	// ClientID identifies this relying party at the issuer.
	ClientID string
	// ClientSecret is used by the revocation endpoint only.
	ClientSecret string
	// Scopes is the space-separated scope string requested at login.
	Scopes string
	// RedirectURI is this gateway's /callback URL as registered upstream.
	RedirectURI string
	// TokenRedirectURL is where the callback sends the browser with tokens.
	TokenRedirectURL string
	// RequiredGroup gates protected requests on a group claim; empty
	// disables the permission check.
	RequiredGroup string
	// Audience overrides the userinfo-derived audience when set.
	Audience string
}

// Load reads the configuration from the environment. A .env file is loaded
// first when present; injected environments (containers, CI) simply win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using system environment")
	}

	cfg := &Config{
		Issuer:           os.Getenv("SSO_ISSUER"),
		ClientID:         os.Getenv("SSO_CLIENT_ID"),
		ClientSecret:     os.Getenv("SSO_CLIENT_SECRET"),
		Scopes:           getEnv("SSO_SCOPES", "openid profile email"),
		RedirectURI:      os.Getenv("SSO_REDIRECT_URI"),
		TokenRedirectURL: os.Getenv("SSO_TOKEN_REDIRECT_URL"),
		RequiredGroup:    os.Getenv("SSO_REQUIRED_GROUP"),
		Audience:         os.Getenv("SSO_AUDIENCE"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on a configuration the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("SSO_ISSUER must be set")
	}
	if !isAbsoluteURL(c.Issuer) {
		return fmt.Errorf("SSO_ISSUER is not a valid URL: %q", c.Issuer)
	}
	if c.ClientID == "" {
		return fmt.Errorf("SSO_CLIENT_ID must be set")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("SSO_REDIRECT_URI must be set")
	}
	if c.TokenRedirectURL == "" {
		return fmt.Errorf("SSO_TOKEN_REDIRECT_URL must be set")
	}
	if !isAbsoluteURL(c.TokenRedirectURL) {
		return fmt.Errorf("SSO_TOKEN_REDIRECT_URL is not a valid URL: %q", c.TokenRedirectURL)
	}
	return nil
}

// isAbsoluteURL reports whether s parses as a URL with a scheme and host.
func isAbsoluteURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
