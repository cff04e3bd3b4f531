package web

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/kolect-core/internal/config"
)

// Config represents the web server configuration
type Config struct {
	Server      ServerConfig  `json:"server"`
	Auth        AuthConfig    `json:"auth"`
	Features    FeatureConfig `json:"features"`
	Initiatives []string      `json:"initiatives"`
	Debug       bool          `json:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// AuthConfig controls the reviewer identity requirement on decision routes
type AuthConfig struct {
	RequireReviewer bool `json:"require_reviewer"`
}

// FeatureConfig contains feature toggles
type FeatureConfig struct {
	BulkEnabled     bool `json:"bulk_enabled"`
	MatchingEnabled bool `json:"matching_enabled"`
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Auth: AuthConfig{
			RequireReviewer: true,
		},
		Features: FeatureConfig{
			BulkEnabled:     true,
			MatchingEnabled: true,
		},
	}
}

// ConfigFromEnv overlays HTTP_* and INITIATIVES environment values on the defaults
func ConfigFromEnv() *Config {
	c := DefaultConfig()
	c.Server.Host = config.GetEnv("HTTP_HOST", c.Server.Host)
	c.Server.Port = config.GetEnvInt("HTTP_PORT", c.Server.Port)
	c.Server.AllowedOrigins = splitList(config.GetEnv("HTTP_ALLOWED_ORIGINS", ""))
	c.Auth.RequireReviewer = config.GetEnvBool("HTTP_REQUIRE_REVIEWER", c.Auth.RequireReviewer)
	c.Features.BulkEnabled = config.GetEnvBool("FEATURE_BULK", c.Features.BulkEnabled)
	c.Features.MatchingEnabled = config.GetEnvBool("FEATURE_MATCHING", c.Features.MatchingEnabled)
	c.Initiatives = splitList(config.GetEnv("INITIATIVES", ""))
	c.Debug = config.GetEnvBool("DEBUG", false)
	return c
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
