// Package config builds the triageflow configuration once at startup from
// defaults, an optional YAML file, .env, and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/carein/triageflow/internal/client"
	"github.com/carein/triageflow/internal/referral"
	"github.com/carein/triageflow/internal/util"
)

// Defaults
const (
	DefaultConfigFile     = "triageflow.yaml"
	DefaultStateDirName   = ".triageflow"
	DefaultProxyAddr      = ":8080"
	DefaultEvaluationType = "complete"
	ThematicEvaluation    = "thematic"
)

// Environment variables. Where two names are listed, the first set one wins.
const (
	EnvAPIBaseURL       = "TRIAGE_API_BASE_URL"
	EnvPublicAPIBaseURL = "NEXT_PUBLIC_API_BASE_URL"
	EnvUpstreamURL      = "API_BASE_URL"
	EnvProxyAddr        = "PROXY_ADDR"
	EnvStateDir         = "TRIAGE_STATE_DIR"
	EnvStoreDSN         = "TRIAGE_STORE_DSN"
	EnvEvaluationType   = "TRIAGE_EVALUATION_TYPE"
	EnvBlocKeys         = "TRIAGE_EVALUATION_BLOC_KEYS"
	EnvContext          = "TRIAGE_EVALUATION_CONTEXT"
	EnvReferralBaseURL  = "TRIAGE_REFERRAL_BASE_URL"
	EnvReferralPath     = "TRIAGE_REFERRAL_PATH"
	EnvDebug            = "TRIAGE_FLOW_DEBUG"
	EnvSelfSigned       = "ALLOW_SELF_SIGNED_CERTS"
	EnvRequestTimeout   = "TRIAGE_REQUEST_TIMEOUT"
)

// Config is the complete triageflow configuration.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Store      StoreConfig      `yaml:"store"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Referral   ReferralConfig   `yaml:"referral"`
	Debug      bool             `yaml:"debug"`

	// Warnings collects recoverable parse problems for the caller to log.
	Warnings []string `yaml:"-"`
}

// APIConfig configures the evaluation API client.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each request
	Timeout time.Duration `yaml:"timeout"`
	// AllowSelfSignedCerts disables TLS verification
	AllowSelfSignedCerts bool `yaml:"allow_self_signed_certs"`
}

// ProxyConfig configures the inbound proxy.
type ProxyConfig struct {
	Addr     string `yaml:"addr"`
	Upstream string `yaml:"upstream"`
}

// StoreConfig selects the local storage backend.
type StoreConfig struct {
	// StateDir holds the JSON store and the lock file
	StateDir string `yaml:"state_dir"`
	// DSN selects SQLite (*.db) or Postgres (postgres://); empty means the JSON file store
	DSN string `yaml:"dsn"`
}

// EvaluationConfig selects which evaluation a new session starts.
type EvaluationConfig struct {
	Type     string                 `yaml:"type"`
	BlocKeys []string               `yaml:"bloc_keys"`
	Context  map[string]interface{} `yaml:"context"`
}

// ReferralConfig configures referral link generation.
type ReferralConfig struct {
	BaseURL string `yaml:"base_url"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: client.DefaultBaseURL,
			Timeout: client.DefaultTimeout,
		},
		Proxy: ProxyConfig{
			Addr:     DefaultProxyAddr,
			Upstream: client.DefaultBaseURL,
		},
		Store: StoreConfig{
			StateDir: defaultStateDir(),
		},
		Evaluation: EvaluationConfig{
			Type: DefaultEvaluationType,
		},
		Referral: ReferralConfig{
			BaseURL: referral.DefaultBaseURL,
			Path:    referral.DefaultPath,
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultStateDirName
	}
	return filepath.Join(home, DefaultStateDirName)
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration: defaults, then the YAML file (path, or
// triageflow.yaml in the working directory when path is empty), then .env,
// then environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	switch {
	case path != "":
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			loaded, err := LoadFromFile(DefaultConfigFile)
			if err != nil {
				return nil, err
			}
			cfg = loaded
			slog.Debug("Config loaded default file", "path", DefaultConfigFile)
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg.ApplyEnv()
	cfg.Validate()

	slog.Debug("Config loaded",
		"api_base_url", cfg.API.BaseURL,
		"state_dir", cfg.Store.StateDir,
		"dsn_set", cfg.Store.DSN != "",
		"evaluation_type", cfg.Evaluation.Type,
		"bloc_keys", len(cfg.Evaluation.BlocKeys),
		"context_set", cfg.Evaluation.Context != nil,
		"warnings", len(cfg.Warnings))
	return cfg, nil
}

// ApplyEnv overlays every set environment variable onto c.
func (c *Config) ApplyEnv() {
	if v := util.FirstEnv(EnvAPIBaseURL, EnvPublicAPIBaseURL); v != "" {
		c.API.BaseURL = v
	}
	if v := util.FirstEnv(EnvUpstreamURL); v != "" {
		c.Proxy.Upstream = v
	}
	if v := util.FirstEnv(EnvProxyAddr); v != "" {
		c.Proxy.Addr = v
	}
	if v := util.FirstEnv(EnvStateDir); v != "" {
		c.Store.StateDir = v
	}
	if v := util.FirstEnv(EnvStoreDSN); v != "" {
		c.Store.DSN = v
	}
	if v := util.FirstEnv(EnvEvaluationType, "NEXT_PUBLIC_EVALUATION_TYPE"); v != "" {
		c.Evaluation.Type = v
	}
	if v := util.FirstEnv(EnvBlocKeys, "NEXT_PUBLIC_EVALUATION_BLOC_KEYS"); v != "" {
		c.SetBlocKeys(v)
	}
	if v := util.FirstEnv(EnvContext, "NEXT_PUBLIC_EVALUATION_CONTEXT"); v != "" {
		c.SetContext(v)
	}
	if v := util.FirstEnv(EnvReferralBaseURL); v != "" {
		c.Referral.BaseURL = v
	}
	if v := util.FirstEnv(EnvReferralPath); v != "" {
		c.Referral.Path = v
	}
	if v := util.FirstEnv(EnvDebug, "NEXT_PUBLIC_FLOW_DEBUG"); v != "" {
		c.setBool(&c.Debug, EnvDebug, v)
	}
	if v := util.FirstEnv(EnvSelfSigned); v != "" {
		c.setBool(&c.API.AllowSelfSignedCerts, EnvSelfSigned, v)
	}
	if v := util.FirstEnv(EnvRequestTimeout); v != "" {
		c.SetTimeout(v)
	}
}

// SetBlocKeys parses raw as bloc keys, recording a warning on bad input.
func (c *Config) SetBlocKeys(raw string) {
	keys, err := ParseBlocKeys(raw)
	if err != nil {
		c.warn("bloc keys: %v", err)
	}
	c.Evaluation.BlocKeys = keys
}

// SetContext parses raw as the evaluation context. Invalid input leaves no
// context and records a warning.
func (c *Config) SetContext(raw string) {
	ctx, err := ParseContext(raw)
	if err != nil {
		c.warn("evaluation context: %v", err)
	}
	c.Evaluation.Context = ctx
}

// SetTimeout parses raw as a Go duration or a number of seconds.
func (c *Config) SetTimeout(raw string) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		c.API.Timeout = d
		return
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		c.API.Timeout = time.Duration(seconds) * time.Second
		return
	}
	c.warn("request timeout %q is not a positive duration, keeping %s", raw, c.API.Timeout)
}

func (c *Config) setBool(dst *bool, key, raw string) {
	v, ok := util.ParseBool(raw)
	if !ok {
		c.warn("%s=%q is not a boolean, keeping %t", key, raw, *dst)
		return
	}
	*dst = v
}

func (c *Config) warn(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// Validate records warnings for settings that will fail later at runtime.
func (c *Config) Validate() {
	if strings.TrimSpace(c.Evaluation.Type) == "" {
		c.warn("evaluation type is empty, using %q", DefaultEvaluationType)
		c.Evaluation.Type = DefaultEvaluationType
	}
	if c.Evaluation.Type == ThematicEvaluation && len(c.Evaluation.BlocKeys) == 0 {
		c.warn("thematic evaluation configured without bloc keys")
	}
	if c.Evaluation.Context != nil && c.Evaluation.Type != ThematicEvaluation {
		c.warn("evaluation context is only sent for thematic evaluations")
	}
	if c.API.Timeout <= 0 {
		c.warn("api timeout must be positive, using %s", client.DefaultTimeout)
		c.API.Timeout = client.DefaultTimeout
	}
}

// ParseBlocKeys accepts a JSON array or a comma separated list. Items are
// trimmed and blanks dropped. A malformed JSON array falls back to the comma
// list and returns an error describing the problem.
func ParseBlocKeys(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	var parseErr error
	var items []interface{}
	if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
		keys := make([]string, 0, len(items))
		for _, item := range items {
			if item == nil {
				continue
			}
			if key := strings.TrimSpace(fmt.Sprint(item)); key != "" {
				keys = append(keys, key)
			}
		}
		return keys, nil
	} else if strings.HasPrefix(trimmed, "[") {
		parseErr = fmt.Errorf("malformed JSON array, read as a comma list: %w", err)
	}

	var keys []string
	for _, part := range strings.Split(trimmed, ",") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys, parseErr
}

var errContextNotObject = errors.New("must be a JSON object")

// ParseContext decodes a JSON object. Anything else yields nil and an error.
func ParseContext(raw string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, errContextNotObject
	}
	return obj, nil
}
