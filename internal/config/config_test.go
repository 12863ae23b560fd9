package config

import (
	"testing"
	"time"
)

func baseConfig(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callbridge", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "callbridge", JWTAudience: "api"},
		Compliance: ComplianceConfig{
			ContactCap:      7,
			ContactWindow:   7 * 24 * time.Hour,
			WindowStartHour: 8,
			WindowEndHour:   21,
		},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := baseConfig("production")
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := baseConfig("local")
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_EnabledProviderWithoutSecretFails(t *testing.T) {
	c := baseConfig("production")
	c.DB.SSLMode = "require"
	c.Webhooks.Providers = map[string]ProviderWebhookConfig{
		"twilio": {Enabled: true, Scheme: SchemeHMACSHA1},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected startup failure for enabled provider without secret")
	}
}

func TestValidate_UnsignedBypassOnlyOutsideProduction(t *testing.T) {
	c := baseConfig("dev")
	c.Webhooks.AllowUnsigned = true
	c.Webhooks.Providers = map[string]ProviderWebhookConfig{
		"twilio": {Enabled: true, Scheme: SchemeHMACSHA1},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected degraded dev config to validate, got %v", err)
	}
	if got := c.DegradedProviders(); len(got) != 1 || got[0] != "twilio" {
		t.Fatalf("expected twilio reported degraded, got %v", got)
	}

	p := baseConfig("production")
	p.DB.SSLMode = "require"
	p.Webhooks.AllowUnsigned = true
	if err := p.Validate(); err == nil {
		t.Fatalf("expected production to reject WEBHOOK_ALLOW_UNSIGNED")
	}
}

func TestValidate_CallingWindowHours(t *testing.T) {
	c := baseConfig("local")
	c.Compliance.WindowStartHour = 21
	c.Compliance.WindowEndHour = 8
	if err := c.Validate(); err == nil {
		t.Fatalf("expected inverted calling window to fail validation")
	}
}
