package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	names := validateProfiles(cfg.Profiles, result)
	if cfg.DefaultProfile != "" && !names[cfg.DefaultProfile] {
		result.AddError("default_profile",
			fmt.Sprintf("default profile %q is not defined", cfg.DefaultProfile))
	}

	validateGateway(&cfg.Gateway, result)
	validateSecurity(&cfg.Security, result)
	validateHistory(&cfg.History, result)
	validateMQTT(&cfg.MQTT, result)
	validateSchedules(cfg.Schedules, names, result)

	return result
}

// ValidateProfile checks a single profile, as used by the setup wizard.
func ValidateProfile(p Profile) *ValidationResult {
	result := &ValidationResult{}
	validateProfile(p, "profile", result)
	return result
}

func validateProfiles(profiles []Profile, result *ValidationResult) map[string]bool {
	names := make(map[string]bool, len(profiles))
	for i, p := range profiles {
		field := fmt.Sprintf("profiles[%d]", i)
		validateProfile(p, field, result)

		if names[p.Name] {
			result.AddError(field+".name", fmt.Sprintf("duplicate profile name %q", p.Name))
		}
		names[p.Name] = true
	}
	return names
}

func validateProfile(p Profile, field string, result *ValidationResult) {
	if strings.TrimSpace(p.Name) == "" {
		result.AddError(field+".name", "profile name is required")
	} else if strings.ContainsAny(p.Name, " /") {
		result.AddError(field+".name", "profile name must not contain spaces or slashes")
	}

	if strings.TrimSpace(p.Host) == "" {
		result.AddError(field+".host", "host is required")
	}

	validatePort(p.Port, field+".port", result)

	if p.TimeoutSec < 0 {
		result.AddError(field+".timeout_sec", "timeout must not be negative")
	}

	if p.Password == "" {
		result.AddWarning(field+".password", "password is empty, authentication will most likely fail")
	}
}

func validateGateway(gw *GatewayConfig, result *ValidationResult) {
	validatePort(gw.Port, "gateway.port", result)

	if gw.BindAddress != "" && net.ParseIP(gw.BindAddress) == nil && gw.BindAddress != "localhost" {
		result.AddError("gateway.bind_address", fmt.Sprintf("invalid bind address: %s", gw.BindAddress))
	}

	if gw.TLSEnabled && !gw.AutoGenerateCert {
		if strings.TrimSpace(gw.TLSCertFile) == "" {
			result.AddError("gateway.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(gw.TLSKeyFile) == "" {
			result.AddError("gateway.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}

	if gw.HealthCheckSec < 0 {
		result.AddError("gateway.health_check_sec", "health check interval cannot be negative")
	}

	if gw.AllowAdhoc {
		result.AddWarning("gateway.allow_adhoc", "ad-hoc targets let API clients reach arbitrary hosts")
	}
}

func validateSecurity(sec *SecurityConfig, result *ValidationResult) {
	if !sec.AuthDisabled {
		switch {
		case sec.JWTSecret == "":
			result.AddError("security.jwt_secret", "JWT secret is required unless auth is disabled")
		case len(sec.JWTSecret) < 32:
			result.AddWarning("security.jwt_secret", "JWT secret is shorter than 32 bytes")
		}
	}

	if sec.RateLimitRPS < 1 {
		result.AddWarning("security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the gateway to abuse")
	}

	for i, entry := range sec.IPWhitelist {
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			result.AddError(fmt.Sprintf("security.ip_whitelist[%d]", i),
				fmt.Sprintf("not an IP or CIDR: %s", entry))
		}
	}
}

func validateHistory(h *HistoryConfig, result *ValidationResult) {
	if !h.Enabled {
		return
	}
	if strings.TrimSpace(h.Path) == "" {
		result.AddError("history.path", "history database path is required when enabled")
	}
	if h.RetentionDays < 0 {
		result.AddError("history.retention_days", "retention days must not be negative")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
	}
}

func validateSchedules(schedules []ScheduleConfig, profiles map[string]bool, result *ValidationResult) {
	for i, s := range schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		if !s.Enabled {
			continue
		}
		if !profiles[s.Profile] {
			result.AddError(field+".profile", fmt.Sprintf("unknown profile %q", s.Profile))
		}
		if strings.TrimSpace(s.Command) == "" {
			result.AddError(field+".command", "command is required")
		}
		if s.IntervalSec < 1 {
			result.AddError(field+".interval_sec", "interval must be at least 1 second")
		} else if s.IntervalSec < 10 {
			result.AddWarning(field+".interval_sec", "interval below 10s opens a connection very often")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}
