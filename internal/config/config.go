// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/drfirst/go-rxworkflow/internal/api/middleware"
	"github.com/drfirst/go-rxworkflow/internal/auth"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	KafkaReplication int16    `mapstructure:"KAFKA_REPLICATION"`
	AuditSink        string   `mapstructure:"AUDIT_SINK"`
	AuditSpoolPath   string   `mapstructure:"AUDIT_SPOOL_PATH"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`

	PharmacyNPI         string        `mapstructure:"PHARMACY_NPI"`
	AdjudicatorURL      string        `mapstructure:"ADJUDICATOR_URL"`
	AdjudicatorAPIKey   string        `mapstructure:"ADJUDICATOR_API_KEY"`
	AdjudicatorTimeout  time.Duration `mapstructure:"ADJUDICATOR_TIMEOUT"`
	PDMPURL             string        `mapstructure:"PDMP_URL"`
	PDMPAPIKey          string        `mapstructure:"PDMP_API_KEY"`
	PDMPTimeout         time.Duration `mapstructure:"PDMP_TIMEOUT"`
	NotifyWebhookURL    string        `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string        `mapstructure:"NOTIFY_WEBHOOK_SECRET"`

	WillCallBinCount         int     `mapstructure:"WILLCALL_BIN_COUNT"`
	WillCallExpiringDays     int     `mapstructure:"WILLCALL_EXPIRING_DAYS"`
	WillCallReturnDays       int     `mapstructure:"WILLCALL_RETURN_DAYS"`
	EarlyRefillGracePercent  float64 `mapstructure:"EARLY_REFILL_GRACE_PERCENT"`
	CancelReasonMinLength    int     `mapstructure:"CANCEL_REASON_MIN_LENGTH"`
	OverrideReasonMinLength  int     `mapstructure:"OVERRIDE_REASON_MIN_LENGTH"`
	RequirePDMPForControlled bool    `mapstructure:"REQUIRE_PDMP_FOR_CONTROLLED"`

	// APIKeys is a comma list of key=staffID:role[:superuser]
	APIKeys string `mapstructure:"API_KEYS"`
}

var defaults = map[string]interface{}{
	"PORT":                        "8080",
	"ENV":                         "development",
	"LOG_LEVEL":                   "info",
	"DB_MAX_CONNS":                20,
	"DB_MIN_CONNS":                2,
	"DB_SCHEMA":                   "public",
	"KAFKA_BROKERS":               "localhost:9092",
	"KAFKA_REPLICATION":           1,
	"AUDIT_SINK":                  "log",
	"AUDIT_SPOOL_PATH":            "./data/audit-spool",
	"TRACING_ENABLED":             false,
	"OTLP_ENDPOINT":               "localhost:4317",
	"TRACE_SAMPLE_RATE":           1.0,
	"ADJUDICATOR_TIMEOUT":         "10s",
	"PDMP_TIMEOUT":                "15s",
	"WILLCALL_BIN_COUNT":          200,
	"WILLCALL_EXPIRING_DAYS":      7,
	"WILLCALL_RETURN_DAYS":        10,
	"EARLY_REFILL_GRACE_PERCENT":  0,
	"CANCEL_REASON_MIN_LENGTH":    10,
	"OVERRIDE_REASON_MIN_LENGTH":  10,
	"REQUIRE_PDMP_FOR_CONTROLLED": false,
}

var bound = []string{
	"DATABASE_URL", "PHARMACY_NPI", "ADJUDICATOR_URL", "ADJUDICATOR_API_KEY",
	"PDMP_URL", "PDMP_API_KEY", "NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET", "API_KEYS",
}

// Load reads the environment over the defaults. A missing .env is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		v.BindEnv(key)
	}
	for _, key := range bound {
		v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(strings.Join(cfg.KafkaBrokers, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UseMemoryStore reports whether the engine runs without Postgres
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

// Validate rejects values the processes cannot run with
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must be between 0 and DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch c.AuditSink {
	case "log", "kafka", "none":
	default:
		return fmt.Errorf("AUDIT_SINK must be log, kafka or none, got %q", c.AuditSink)
	}
	if c.AuditSink == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when AUDIT_SINK is kafka")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1")
	}
	if c.AdjudicatorTimeout <= 0 || c.PDMPTimeout <= 0 {
		return fmt.Errorf("ADJUDICATOR_TIMEOUT and PDMP_TIMEOUT must be positive")
	}
	if c.WillCallBinCount < 1 {
		return fmt.Errorf("WILLCALL_BIN_COUNT must be at least 1")
	}
	if c.WillCallExpiringDays < 1 || c.WillCallReturnDays <= c.WillCallExpiringDays {
		return fmt.Errorf("WILLCALL_RETURN_DAYS (%d) must exceed WILLCALL_EXPIRING_DAYS (%d)",
			c.WillCallReturnDays, c.WillCallExpiringDays)
	}
	if c.EarlyRefillGracePercent < 0 || c.EarlyRefillGracePercent >= 100 {
		return fmt.Errorf("EARLY_REFILL_GRACE_PERCENT must be in [0, 100)")
	}
	if c.CancelReasonMinLength < 1 || c.OverrideReasonMinLength < 1 {
		return fmt.Errorf("reason minimum lengths must be positive")
	}
	if c.NotifyWebhookURL != "" && c.NotifyWebhookSecret == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set")
	}
	if _, err := c.Credentials(); err != nil {
		return err
	}
	return nil
}

// Credentials parses API_KEYS into the middleware key table
func (c *Config) Credentials() (map[string]middleware.Credential, error) {
	out := make(map[string]middleware.Credential)
	for _, item := range splitList(c.APIKeys) {
		key, rest, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("API_KEYS entry %q must be key=staffID:role[:superuser]", item)
		}
		parts := strings.Split(rest, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("API_KEYS entry for %q must be key=staffID:role[:superuser]", key)
		}
		role := auth.Role(strings.ToLower(parts[1]))
		if !knownRole(role) {
			return nil, fmt.Errorf("API_KEYS entry for %q has unknown role %q", key, parts[1])
		}
		flags := auth.RoleFlags{Role: role}
		if len(parts) == 3 {
			if parts[2] != "superuser" {
				return nil, fmt.Errorf("API_KEYS entry for %q: third field must be superuser", key)
			}
			flags.Superuser = true
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("API_KEYS has duplicate key %q", key)
		}
		out[key] = middleware.Credential{StaffID: parts[0], Flags: flags}
	}
	return out, nil
}

func knownRole(r auth.Role) bool {
	switch r {
	case auth.RoleAdmin, auth.RoleManager, auth.RolePharmacist, auth.RolePrescriber,
		auth.RoleIntern, auth.RoleTechnician, auth.RoleClerk, auth.RoleViewer:
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
