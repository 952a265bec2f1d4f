// Package config provides configuration management for the risk daemon.
//
// The daemon reads a JSON document from a fixed path. A missing file is
// replaced with a safe default (dry-run, MNQ, a single max_contracts rule)
// and a corrupt file falls back to the same default in memory: a risk daemon
// must keep running so operators retain telemetry.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is the fixed location of the daemon configuration.
const DefaultPath = "config/risk_manager_config.json"

const defaultPasscode = "admin123"

// Config is the top-level daemon configuration.
type Config struct {
	DryRun   bool     `json:"dry_run"`
	LogLevel string   `json:"log_level"`
	Symbols  []string `json:"symbols"`
	// AdminPasscode gates start/stop. Overridden by RISKD_ADMIN_PASSCODE.
	AdminPasscode string          `json:"admin_passcode,omitempty"`
	Dashboard     DashboardConfig `json:"dashboard,omitempty"`
	Rules         RuleSet         `json:"rules"`
}

// DashboardConfig controls the optional read-only status server.
type DashboardConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// RuleConfig describes one rule entry under "rules".
type RuleConfig struct {
	Enabled     bool           `json:"enabled"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// IntParam returns an integer parameter, tolerating the float64 that
// encoding/json produces for numbers, with a default when absent.
func (r RuleConfig) IntParam(key string, def int) int {
	switch v := r.Parameters[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// FloatParam returns a float parameter with a default when absent.
func (r RuleConfig) FloatParam(key string, def float64) float64 {
	switch v := r.Parameters[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// StringParam returns a string parameter with a default when absent.
func (r RuleConfig) StringParam(key, def string) string {
	if v, ok := r.Parameters[key].(string); ok {
		return v
	}
	return def
}

// RuleSet is an ordered map of rule name to configuration. Rules are
// evaluated in the order they appear in the config document, so the JSON
// object's key order is preserved on decode.
type RuleSet struct {
	names  []string
	byName map[string]RuleConfig
}

// Set adds or replaces a rule, appending to declaration order on first add.
func (rs *RuleSet) Set(name string, cfg RuleConfig) {
	if rs.byName == nil {
		rs.byName = make(map[string]RuleConfig)
	}
	if _, ok := rs.byName[name]; !ok {
		rs.names = append(rs.names, name)
	}
	rs.byName[name] = cfg
}

// Names returns rule names in declaration order.
func (rs RuleSet) Names() []string {
	out := make([]string, len(rs.names))
	copy(out, rs.names)
	return out
}

// Get returns the configuration for a named rule.
func (rs RuleSet) Get(name string) (RuleConfig, bool) {
	cfg, ok := rs.byName[name]
	return cfg, ok
}

// Len returns the number of configured rules.
func (rs RuleSet) Len() int { return len(rs.names) }

// UnmarshalJSON decodes the rules object while recording key order, which
// encoding/json's map decoding would otherwise discard.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	rs.names = nil
	rs.byName = make(map[string]RuleConfig)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("rules: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("rules: expected string key, got %v", keyTok)
		}
		var cfg RuleConfig
		if err := dec.Decode(&cfg); err != nil {
			return fmt.Errorf("rules[%s]: %w", name, err)
		}
		rs.Set(name, cfg)
	}
	_, err = dec.Token() // closing brace
	return err
}

// MarshalJSON writes the rules object in declaration order.
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range rs.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(rs.byName[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Default returns the safe fallback configuration the daemon uses when the
// config file is missing or unreadable.
func Default() *Config {
	var rules RuleSet
	rules.Set("max_contracts", RuleConfig{
		Enabled:     true,
		Severity:    "high",
		Description: "Restricts maximum contracts per position",
		Parameters: map[string]any{
			"max_contracts": float64(4),
			"enforcement":   "flatten",
		},
	})
	return &Config{
		DryRun:   true,
		LogLevel: "INFO",
		Symbols:  []string{"MNQ"},
		Rules:    rules,
	}
}

// Load reads the configuration from path. A missing file is created with the
// default document. A file that fails to parse or validate yields the default
// configuration plus a non-nil error so the caller can audit the fallback;
// the daemon must not refuse to start over a bad config.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path) // #nosec G304 -- fixed operator-owned config path
	if os.IsNotExist(err) {
		def := Default()
		if werr := Write(path, def); werr != nil {
			return def, fmt.Errorf("writing default config: %w", werr)
		}
		return def, nil
	}
	if err != nil {
		return Default(), fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Write persists cfg to path atomically, creating the parent directory if
// needed.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { // #nosec G306 -- operator-readable config
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp, path)
}

// Validate checks the decoded document for values the daemon cannot act on.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("log_level %q is not one of DEBUG|INFO|WARN|ERROR", c.LogLevel)
	}
	for _, name := range c.Rules.Names() {
		rc, _ := c.Rules.Get(name)
		switch rc.Severity {
		case "", "low", "medium", "high":
		default:
			return fmt.Errorf("rules.%s.severity %q is not one of low|medium|high", name, rc.Severity)
		}
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port %d is out of range", c.Dashboard.Port)
	}
	return nil
}

// Passcode returns the admin passcode, preferring the RISKD_ADMIN_PASSCODE
// environment variable over the config value over the historical default.
func (c *Config) Passcode() string {
	if p := os.Getenv("RISKD_ADMIN_PASSCODE"); p != "" {
		return p
	}
	if c.AdminPasscode != "" {
		return c.AdminPasscode
	}
	return defaultPasscode
}
