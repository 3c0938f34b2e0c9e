// Package config handles configuration loading, validation, and persistence
// for rconctl: named server profiles plus the gateway, history, telemetry
// and scheduler settings.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/rcon"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultGatewayPort = 8095
	DefaultHost        = "127.0.0.1"
	DefaultTimeoutSec  = 5
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	DefaultProfile string           `json:"default_profile"`
	Profiles       []Profile        `json:"profiles"`
	Gateway        GatewayConfig    `json:"gateway"`
	Security       SecurityConfig   `json:"security"`
	History        HistoryConfig    `json:"history"`
	MQTT           MQTTConfig       `json:"mqtt"`
	Schedules      []ScheduleConfig `json:"schedules"`
	Logging        LoggingConfig    `json:"logging"`
}

// Profile is a named RCON target.
type Profile struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Password   string `json:"password"`
	TimeoutSec int    `json:"timeout_sec"`
}

// Timeout returns the profile timeout, falling back to the default.
func (p Profile) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return DefaultTimeoutSec * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// SessionConfig converts the profile into dial parameters.
func (p Profile) SessionConfig() rcon.Config {
	return rcon.Config{
		Host:     p.Host,
		Port:     p.Port,
		Password: p.Password,
		Timeout:  p.Timeout(),
	}
}

// GatewayConfig holds the HTTP gateway settings.
type GatewayConfig struct {
	BindAddress      string `json:"bind_address"`
	Port             int    `json:"port"`
	AllowAdhoc       bool   `json:"allow_adhoc"`
	TLSEnabled       bool   `json:"tls_enabled"`
	TLSCertFile      string `json:"tls_cert_file"`
	TLSKeyFile       string `json:"tls_key_file"`
	AutoGenerateCert bool   `json:"auto_generate_cert"`
	HealthCheckSec   int    `json:"health_check_sec"`
}

// SecurityConfig holds gateway authentication and abuse limits.
type SecurityConfig struct {
	AuthDisabled   bool     `json:"auth_disabled"`
	JWTSecret      string   `json:"jwt_secret"`
	JWTIssuer      string   `json:"jwt_issuer"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
}

// HistoryConfig holds command history settings.
type HistoryConfig struct {
	Enabled        bool   `json:"enabled"`
	Path           string `json:"path"`
	RetentionDays  int    `json:"retention_days"`
	StoreResponses bool   `json:"store_responses"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// ScheduleConfig runs Command against Profile every IntervalSec seconds.
type ScheduleConfig struct {
	Name        string `json:"name"`
	Profile     string `json:"profile"`
	Command     string `json:"command"`
	IntervalSec int    `json:"interval_sec"`
	Enabled     bool   `json:"enabled"`
}

// Interval returns the schedule period.
func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultProfile: "local",
		Profiles: []Profile{
			{
				Name:       "local",
				Host:       DefaultHost,
				Port:       rcon.DefaultPort,
				TimeoutSec: DefaultTimeoutSec,
			},
		},
		Gateway: GatewayConfig{
			BindAddress:    "127.0.0.1",
			Port:           DefaultGatewayPort,
			HealthCheckSec: 60,
		},
		Security: SecurityConfig{
			JWTIssuer:    "rconctl",
			RateLimitRPS: 20,
		},
		History: HistoryConfig{
			Enabled:        true,
			Path:           filepath.Join(DefaultConfigDir, "history.db"),
			RetentionDays:  30,
			StoreResponses: true,
		},
		MQTT: MQTTConfig{
			Port:        8883,
			UseTLS:      true,
			TopicPrefix: "rcon",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from configDir/config.json, creating it with
// defaults on first use.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			cfg.ensureJWTSecret()
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	// Unmarshal would merge file profiles into the default entries.
	cfg.Profiles = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	cfg.ensureJWTSecret()
	log.Debug().Str("path", configPath).Int("profiles", len(cfg.Profiles)).Msg("configuration loaded")

	// Re-save so the file picks up fields added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// ensureJWTSecret fills in a random gateway secret when auth is enabled
// and none is configured.
func (c *Config) ensureJWTSecret() {
	if c.Security.AuthDisabled || c.Security.JWTSecret != "" {
		return
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Warn().Err(err).Msg("failed to generate JWT secret")
		return
	}
	c.Security.JWTSecret = hex.EncodeToString(buf)
	log.Info().Msg("generated a new gateway JWT secret")
}

// Save writes the current configuration to disk. Passwords and the JWT
// secret live in this file, so it is written owner-readable only.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config has no file path")
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// GetProfiles returns a copy of all profiles.
func (c *Config) GetProfiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, len(c.Profiles))
	copy(out, c.Profiles)
	return out
}

// GetProfile looks a profile up by name. An empty name selects the
// default profile.
func (c *Config) GetProfile(name string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if name == "" {
		name = c.DefaultProfile
	}
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// SetProfile adds p or replaces the profile with the same name.
func (c *Config) SetProfile(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Profiles {
		if c.Profiles[i].Name == p.Name {
			c.Profiles[i] = p
			return
		}
	}
	c.Profiles = append(c.Profiles, p)
}

// RemoveProfile deletes a profile by name and reports whether it existed.
func (c *Config) RemoveProfile(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			c.Profiles = append(c.Profiles[:i], c.Profiles[i+1:]...)
			if c.DefaultProfile == name {
				c.DefaultProfile = ""
			}
			return true
		}
	}
	return false
}

// GetSchedules returns a copy of the configured schedules.
func (c *Config) GetSchedules() []ScheduleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ScheduleConfig, len(c.Schedules))
	copy(out, c.Schedules)
	return out
}

// GetSecurity returns a copy of the security configuration.
func (c *Config) GetSecurity() SecurityConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Security
}

// GetGateway returns a copy of the gateway configuration.
func (c *Config) GetGateway() GatewayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway
}
