package config

import (
	"testing"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/auth"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("API_KEYS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if !cfg.UseMemoryStore() {
		t.Error("empty DATABASE_URL should select the memory store")
	}
	if cfg.AdjudicatorTimeout != 10*time.Second || cfg.PDMPTimeout != 15*time.Second {
		t.Errorf("unexpected timeouts %s / %s", cfg.AdjudicatorTimeout, cfg.PDMPTimeout)
	}
	if cfg.WillCallBinCount != 200 || cfg.WillCallExpiringDays != 7 || cfg.WillCallReturnDays != 10 {
		t.Errorf("unexpected will-call defaults %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://rx:rx@localhost:5432/rx")
	t.Setenv("KAFKA_BROKERS", "rp-0:9092, rp-1:9092")
	t.Setenv("ADJUDICATOR_TIMEOUT", "3s")
	t.Setenv("REQUIRE_PDMP_FOR_CONTROLLED", "true")
	t.Setenv("API_KEYS", "k1=tech-1:technician,k2=rph-1:pharmacist:superuser")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UseMemoryStore() {
		t.Error("DATABASE_URL should select postgres")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "rp-1:9092" {
		t.Errorf("brokers not split: %v", cfg.KafkaBrokers)
	}
	if cfg.AdjudicatorTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %s", cfg.AdjudicatorTimeout)
	}
	if !cfg.RequirePDMPForControlled {
		t.Error("expected REQUIRE_PDMP_FOR_CONTROLLED")
	}

	creds, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds["k1"].StaffID != "tech-1" || creds["k1"].Flags.Role != auth.RoleTechnician {
		t.Errorf("bad k1: %+v", creds["k1"])
	}
	if !creds["k2"].Flags.Superuser {
		t.Error("k2 should be superuser")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                    "8080",
			LogLevel:                "info",
			DBMaxConns:              20,
			DBMinConns:              2,
			AuditSink:               "log",
			TraceSampleRate:         1,
			AdjudicatorTimeout:      time.Second,
			PDMPTimeout:             time.Second,
			WillCallBinCount:        10,
			WillCallExpiringDays:    7,
			WillCallReturnDays:      10,
			CancelReasonMinLength:   10,
			OverrideReasonMinLength: 10,
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"min over max conns", func(c *Config) { c.DBMinConns = 30 }},
		{"unknown audit sink", func(c *Config) { c.AuditSink = "s3" }},
		{"kafka sink without brokers", func(c *Config) { c.AuditSink = "kafka" }},
		{"return before expiring", func(c *Config) { c.WillCallReturnDays = 7 }},
		{"zero bins", func(c *Config) { c.WillCallBinCount = 0 }},
		{"grace too large", func(c *Config) { c.EarlyRefillGracePercent = 100 }},
		{"webhook without secret", func(c *Config) { c.NotifyWebhookURL = "https://notify.example" }},
		{"malformed api key", func(c *Config) { c.APIKeys = "k1" }},
		{"unknown role", func(c *Config) { c.APIKeys = "k1=s1:janitor" }},
		{"duplicate key", func(c *Config) { c.APIKeys = "k1=s1:clerk,k1=s2:clerk" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
