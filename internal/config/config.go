// Package config provides application configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/stealthfetch/internal/browser"
	"github.com/Rorqualx/stealthfetch/internal/types"
)

// Launch presets.
const (
	PresetStealth = "stealth"
	PresetDefault = "default"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxTimeout          = 10 * time.Minute
	maxRateLimitRPM     = 10000 // Maximum requests per minute per IP
	maxFetchConcurrency = 32
	minAPIKeyLength     = 16 // Minimum API key length for security
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	LaunchPreset string // "stealth" or "default"
	Headless     *bool  // nil = the preset decides
	BrowserPath  string
	ProxyPort    int    // 0 = no proxy
	UserDataDir  string // Empty = temporary profile removed on close

	// Fetch bounds
	FetchTimeout     time.Duration // Per-fetch bound; 0 = launch preset idle timeout
	MaxTimeout       time.Duration // Upper bound for a request's maxTimeout
	FetchConcurrency int           // Parallel fetches for the fetch command

	// Stealth profile
	ProfilePath      string // External profile.yaml merged over the embedded one
	ProfileHotReload bool

	// Logging
	LogLevel string
	LogHTML  bool

	// Security
	AllowLocalURLs     bool     // Allow loopback/private targets (metadata endpoints stay blocked)
	RateLimitEnabled   bool
	RateLimitRPM       int      // Requests per minute per IP
	TrustProxy         bool     // Trust X-Forwarded-For headers (only enable behind a reverse proxy)
	CORSAllowedOrigins []string // Allowed CORS origins (empty = reject cross-origin requests)

	// API Key Authentication
	APIKeyEnabled bool
	APIKey        string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost so the service is not exposed by accident
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8191),

		// Browser
		LaunchPreset: strings.ToLower(getEnvString("LAUNCH_PRESET", PresetStealth)),
		Headless:     getEnvOptionalBool("HEADLESS"),
		BrowserPath:  getEnvString("BROWSER_PATH", ""),
		ProxyPort:    getEnvInt("PROXY_PORT", 0),
		UserDataDir:  getEnvString("USER_DATA_DIR", ""),

		// Fetch bounds
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 0),
		MaxTimeout:       getEnvDuration("MAX_TIMEOUT", 300*time.Second),
		FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", 4),

		// Profile
		ProfilePath:      getEnvString("PROFILE_PATH", ""),
		ProfileHotReload: getEnvBool("PROFILE_HOT_RELOAD", false),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogHTML:  getEnvBool("LOG_HTML", false),

		// Security
		AllowLocalURLs:     getEnvBool("ALLOW_LOCAL_URLS", false),
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),

		APIKeyEnabled: getEnvBool("API_KEY_ENABLED", false),
		APIKey:        getEnvString("API_KEY", ""),

		// Metrics
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 8192),
	}
}

// HasProxy returns true if an upstream proxy port is configured.
func (c *Config) HasProxy() bool {
	return c.ProxyPort > 0
}

// LaunchConfig builds the browser launch configuration from the preset and
// the browser overrides.
func (c *Config) LaunchConfig() (browser.LaunchConfig, error) {
	var (
		cfg browser.LaunchConfig
		err error
	)
	switch c.LaunchPreset {
	case PresetStealth, "":
		cfg = browser.StealthConfig()
	case PresetDefault:
		cfg, err = browser.DefaultConfig()
		if err != nil {
			return browser.LaunchConfig{}, err
		}
	default:
		return browser.LaunchConfig{}, fmt.Errorf("%w: unknown launch preset %q", types.ErrInvalidLaunchConfig, c.LaunchPreset)
	}

	var opts []browser.LaunchOption
	if c.Headless != nil {
		opts = append(opts, browser.Headless(*c.Headless))
	}
	if c.BrowserPath != "" {
		opts = append(opts, browser.BrowserPath(c.BrowserPath))
	}
	if c.FetchTimeout > 0 {
		opts = append(opts, browser.IdleTimeout(c.FetchTimeout))
	}
	if cfg, err = cfg.With(opts...); err != nil {
		return browser.LaunchConfig{}, err
	}

	if c.HasProxy() {
		if cfg, err = browser.WithProxy(cfg, c.ProxyPort); err != nil {
			return browser.LaunchConfig{}, err
		}
	}
	if c.UserDataDir != "" {
		if cfg, err = browser.WithUserDataDir(cfg, c.UserDataDir); err != nil {
			return browser.LaunchConfig{}, err
		}
	}
	return cfg, nil
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8191")
		c.Port = 8191
	}

	switch c.LaunchPreset {
	case PresetStealth, PresetDefault:
	default:
		log.Warn().Str("preset", c.LaunchPreset).Msg("Unknown LAUNCH_PRESET, using stealth")
		c.LaunchPreset = PresetStealth
	}

	c.BrowserPath = validatePath("BROWSER_PATH", c.BrowserPath)
	c.UserDataDir = validatePath("USER_DATA_DIR", c.UserDataDir)
	c.ProfilePath = validatePath("PROFILE_PATH", c.ProfilePath)

	if c.ProxyPort < 0 || c.ProxyPort > 65535 {
		log.Warn().Int("port", c.ProxyPort).Msg("Invalid PROXY_PORT, proxy disabled")
		c.ProxyPort = 0
	}

	// MaxTimeout first so FetchTimeout is clamped against the final value
	if c.MaxTimeout < time.Second {
		log.Warn().Dur("timeout", c.MaxTimeout).Msg("Max timeout too short, using 300s")
		c.MaxTimeout = 300 * time.Second
	}
	if c.MaxTimeout > maxTimeout {
		log.Warn().
			Dur("timeout", c.MaxTimeout).
			Dur("max", maxTimeout).
			Msg("Max timeout too high, capping to maximum")
		c.MaxTimeout = maxTimeout
	}
	if c.FetchTimeout > c.MaxTimeout {
		log.Warn().
			Dur("fetch_timeout", c.FetchTimeout).
			Dur("max", c.MaxTimeout).
			Msg("Fetch timeout exceeds max timeout, adjusting to max")
		c.FetchTimeout = c.MaxTimeout
	}

	if c.FetchConcurrency < 1 {
		log.Warn().Int("concurrency", c.FetchConcurrency).Msg("Invalid FETCH_CONCURRENCY, using 1")
		c.FetchConcurrency = 1
	} else if c.FetchConcurrency > maxFetchConcurrency {
		log.Warn().
			Int("concurrency", c.FetchConcurrency).
			Int("max", maxFetchConcurrency).
			Msg("FETCH_CONCURRENCY too high, capping to maximum")
		c.FetchConcurrency = maxFetchConcurrency
	}

	if c.ProfileHotReload && c.ProfilePath == "" {
		log.Warn().Msg("PROFILE_HOT_RELOAD enabled but PROFILE_PATH not set - hot-reload disabled")
		c.ProfileHotReload = false
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid RATE_LIMIT_RPM, using 60")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("RATE_LIMIT_RPM too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		log.Warn().Str("level", c.LogLevel).Msg("Invalid LOG_LEVEL, using info")
		c.LogLevel = "info"
	}

	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - cross-origin browser requests will be rejected")
	}

	if c.AllowLocalURLs {
		log.Warn().Msg("ALLOW_LOCAL_URLS enabled - loopback and private addresses can be fetched")
	}

	if c.PrometheusEnabled {
		if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
			log.Warn().Int("port", c.PrometheusPort).Msg("Invalid PROMETHEUS_PORT, using 8192")
			c.PrometheusPort = 8192
		}
		if c.PrometheusPort == c.Port {
			log.Error().
				Int("port", c.PrometheusPort).
				Msg("PROMETHEUS_PORT conflicts with PORT, using PORT+1")
			c.PrometheusPort = c.Port + 1
		}
	}

	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		}
	}
}

// validatePath rejects paths with traversal sequences and warns on relative ones.
func validatePath(name, path string) string {
	if path == "" {
		return ""
	}
	if strings.Contains(path, "..") {
		log.Error().
			Str("path", path).
			Msgf("%s contains path traversal sequence (..), ignoring", name)
		return ""
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "C:") && !strings.HasPrefix(path, "c:") {
		log.Warn().
			Str("path", path).
			Msgf("%s should be an absolute path", name)
	}
	return path
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		// ParseInt with an explicit bit size catches overflow
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// getEnvOptionalBool returns nil when key is unset or invalid.
func getEnvOptionalBool(key string) *bool {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Msg("Invalid boolean in environment variable, using preset default")
		return nil
	}
	return &boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
