package config

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

const appName = "apiary"

type Config struct {
	Service   *svcConfig       `json:"service,omitempty"`
	Auth      *authConfig      `json:"auth,omitempty"`
	RateLimit *rateLimitConfig `json:"rateLimit,omitempty"`
	Endpoints *endpointsConfig `json:"endpoints,omitempty"`
}

type svcConfig struct {
	Address string `json:"address,omitempty"`
	BaseUrl string `json:"baseUrl,omitempty"`
	// HttpMaxRequestSize is the request body ceiling in bytes.
	HttpMaxRequestSize int64  `json:"httpMaxRequestSize,omitempty"`
	LogLevel           string `json:"logLevel,omitempty"`
}

type authConfig struct {
	// ApiKeys is the global credential source: either a comma-separated
	// inline key list or the path to a key file (one key per line).
	ApiKeys string `json:"apiKeys,omitempty"`
}

type rateLimitConfig struct {
	Enabled bool `json:"enabled"`
	// Requests per minute for unauthenticated callers, keyed by address.
	PerMinute int `json:"perMinute,omitempty"`
	// Requests per minute for callers presenting an API key.
	AuthenticatedPerMinute int `json:"authenticatedPerMinute,omitempty"`
}

type endpointsConfig struct {
	// File is the endpoint declarations document. A missing file means
	// zero dynamic endpoints, not an error.
	File string `json:"file,omitempty"`
}

func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "."+appName)
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func EndpointsFile() string {
	return filepath.Join(ConfigDir(), "endpoints.json")
}

func NewDefault() *Config {
	return &Config{
		Service: &svcConfig{
			Address:            ":8080",
			BaseUrl:            "http://localhost:8080",
			HttpMaxRequestSize: 10 * 1024 * 1024,
			LogLevel:           "info",
		},
		Auth: &authConfig{},
		RateLimit: &rateLimitConfig{
			Enabled:                true,
			PerMinute:              60,
			AuthenticatedPerMinute: 300,
		},
		Endpoints: &endpointsConfig{
			File: EndpointsFile(),
		},
	}
}

func NewFromFile(cfgFile string) (*Config, error) {
	cfg, err := Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrGenerate(cfgFile string) (*Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfgFile), os.FileMode(0755)); err != nil {
			return nil, fmt.Errorf("creating directory for config file: %w", err)
		}
		if err := Save(NewDefault(), cfgFile); err != nil {
			return nil, err
		}
	}
	return NewFromFile(cfgFile)
}

func Load(cfgFile string) (*Config, error) {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	c := NewDefault()
	if err := yaml.Unmarshal(contents, c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

func Save(cfg *Config, cfgFile string) error {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(cfgFile, contents, os.FileMode(0600)); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func Validate(cfg *Config) error {
	if cfg.Service == nil || cfg.Service.Address == "" {
		return fmt.Errorf("service address must be set")
	}
	if cfg.Service.HttpMaxRequestSize <= 0 {
		return fmt.Errorf("httpMaxRequestSize must be positive")
	}
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		if cfg.RateLimit.PerMinute <= 0 || cfg.RateLimit.AuthenticatedPerMinute <= 0 {
			return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
		}
	}
	return nil
}

func (cfg *Config) String() string {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}

// GlobalAPIKeys returns the configured global credential source, empty if
// authentication is unconfigured.
func (cfg *Config) GlobalAPIKeys() string {
	if cfg.Auth == nil {
		return ""
	}
	return cfg.Auth.ApiKeys
}

// RateLimitFor returns the per-minute band for a caller, by whether a
// credential accompanied the request.
func (cfg *Config) RateLimitFor(authenticated bool) int {
	if cfg.RateLimit == nil {
		return 0
	}
	if authenticated {
		return cfg.RateLimit.AuthenticatedPerMinute
	}
	return cfg.RateLimit.PerMinute
}

// RateLimitEnabled reports whether the rate limiting stage is active.
func (cfg *Config) RateLimitEnabled() bool {
	return cfg.RateLimit != nil && cfg.RateLimit.Enabled
}
