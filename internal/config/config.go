package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an env-file loaded for local/dev).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Webhooks   WebhooksConfig
	Pipeline   PipelineConfig
	Compliance ComplianceConfig
	Stream     StreamConfig
	Telco      TelcoConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally visible origin of this service, used to
	// rebuild the exact URL providers sign. Optional behind a well-behaved
	// proxy that preserves Host.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// SignatureScheme selects how a provider signs its webhooks.
// The scheme is explicit per-provider configuration; it is never inferred
// from which headers happen to be present on a request.
type SignatureScheme string

const (
	SchemeHMACSHA1   SignatureScheme = "hmac-sha1"
	SchemeHMACSHA256 SignatureScheme = "hmac-sha256"
	SchemeEd25519    SignatureScheme = "ed25519"
)

// ProviderWebhookConfig is the per-provider inbound webhook verification setup.
type ProviderWebhookConfig struct {
	Enabled bool
	Scheme  SignatureScheme

	// Secret is the shared secret for HMAC schemes.
	Secret string
	// PublicKeyB64 is the base64-encoded public key for the ed25519 scheme.
	PublicKeyB64 string
}

type WebhooksConfig struct {
	// Providers is keyed by provider slug as it appears in the webhook URL.
	Providers map[string]ProviderWebhookConfig

	// AllowUnsigned enables the degraded bypass for providers missing key
	// material. Honored only outside production; always logged.
	AllowUnsigned bool
}

type PipelineConfig struct {
	TranslateAPIKey   string
	TranslateModel    string
	TranslateEndpoint string
	TranslateTimeout  time.Duration

	SynthesisAPIKey   string
	SynthesisVoiceID  string
	SynthesisEndpoint string
	SynthesisTimeout  time.Duration
}

type ComplianceConfig struct {
	// ContactCap is the max contact attempts per subject within ContactWindow.
	ContactCap    int
	ContactWindow time.Duration

	// Allowed calling window in the subject's local time.
	WindowStartHour int
	WindowEndHour   int
}

type StreamConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatCap      int
}

type TelcoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// InjectionQueueMaxDepth bounds synthesized audio waiting per call.
const InjectionQueueMaxDepth = 10

func Load() (Config, error) {
	// Env-file is a local/dev convenience only; absence is not an error.
	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "local" || env == "dev" {
		_ = godotenv.Load()
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Webhooks.Providers = map[string]ProviderWebhookConfig{
		"telnyx": {
			Enabled:      boolEnv("TELNYX_WEBHOOKS_ENABLED"),
			Scheme:       SchemeEd25519,
			PublicKeyB64: strings.TrimSpace(os.Getenv("TELNYX_PUBLIC_KEY")),
		},
		"twilio": {
			Enabled: boolEnv("TWILIO_WEBHOOKS_ENABLED"),
			Scheme:  SchemeHMACSHA1,
			Secret:  os.Getenv("TWILIO_AUTH_TOKEN"),
		},
	}
	c.Webhooks.AllowUnsigned = boolEnv("WEBHOOK_ALLOW_UNSIGNED")

	c.Pipeline.TranslateAPIKey = os.Getenv("TRANSLATE_API_KEY")
	c.Pipeline.TranslateModel = strings.TrimSpace(os.Getenv("TRANSLATE_MODEL_ID"))
	c.Pipeline.TranslateEndpoint = strings.TrimSpace(os.Getenv("TRANSLATE_ENDPOINT"))
	c.Pipeline.TranslateTimeout = durationEnv("TRANSLATE_TIMEOUT", 10*time.Second)
	c.Pipeline.SynthesisAPIKey = os.Getenv("SYNTHESIS_API_KEY")
	c.Pipeline.SynthesisVoiceID = strings.TrimSpace(os.Getenv("SYNTHESIS_VOICE_ID"))
	c.Pipeline.SynthesisEndpoint = strings.TrimSpace(os.Getenv("SYNTHESIS_ENDPOINT"))
	c.Pipeline.SynthesisTimeout = durationEnv("SYNTHESIS_TIMEOUT", 15*time.Second)

	c.Compliance.ContactCap = intEnvDefault("COMPLIANCE_CONTACT_CAP", 7)
	c.Compliance.ContactWindow = durationEnv("COMPLIANCE_CONTACT_WINDOW", 7*24*time.Hour)
	c.Compliance.WindowStartHour = intEnvDefault("COMPLIANCE_WINDOW_START_HOUR", 8)
	c.Compliance.WindowEndHour = intEnvDefault("COMPLIANCE_WINDOW_END_HOUR", 21)

	c.Stream.HeartbeatInterval = durationEnv("STREAM_HEARTBEAT_INTERVAL", time.Second)
	c.Stream.HeartbeatCap = intEnvDefault("STREAM_HEARTBEAT_CAP", 1800)

	c.Telco.BaseURL = strings.TrimSpace(os.Getenv("TELCO_BASE_URL"))
	c.Telco.APIKey = os.Getenv("TELCO_API_KEY")
	c.Telco.Timeout = durationEnv("TELCO_TIMEOUT", 10*time.Second)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	// Webhook key material is checked at startup, not per-request. A missing
	// secret must fail loudly here rather than surface as per-request 401s
	// discovered only in production traffic.
	for slug, p := range c.Webhooks.Providers {
		if !p.Enabled {
			continue
		}
		if err := p.validate(slug); err != nil {
			if c.IsProduction() || !c.Webhooks.AllowUnsigned {
				errs = append(errs, err)
			}
		}
	}
	if c.IsProduction() && c.Webhooks.AllowUnsigned {
		errs = append(errs, errors.New("WEBHOOK_ALLOW_UNSIGNED must not be set in production"))
	}

	if c.Compliance.ContactCap <= 0 {
		errs = append(errs, errors.New("COMPLIANCE_CONTACT_CAP must be > 0"))
	}
	if c.Compliance.ContactWindow <= 0 {
		errs = append(errs, errors.New("COMPLIANCE_CONTACT_WINDOW must be > 0"))
	}
	if c.Compliance.WindowStartHour < 0 || c.Compliance.WindowStartHour > 23 ||
		c.Compliance.WindowEndHour < 1 || c.Compliance.WindowEndHour > 24 ||
		c.Compliance.WindowEndHour <= c.Compliance.WindowStartHour {
		errs = append(errs, errors.New("compliance calling window hours are invalid"))
	}

	if c.Stream.HeartbeatInterval <= 0 {
		c.Stream.HeartbeatInterval = time.Second
	}
	if c.Stream.HeartbeatCap <= 0 {
		c.Stream.HeartbeatCap = 1800
	}

	return joinErrors(errs)
}

func (p ProviderWebhookConfig) validate(slug string) error {
	switch p.Scheme {
	case SchemeHMACSHA1, SchemeHMACSHA256:
		if p.Secret == "" {
			return fmt.Errorf("webhook provider %q: secret is required for scheme %s", slug, p.Scheme)
		}
	case SchemeEd25519:
		if p.PublicKeyB64 == "" {
			return fmt.Errorf("webhook provider %q: public key is required for scheme %s", slug, p.Scheme)
		}
	default:
		return fmt.Errorf("webhook provider %q: unknown signature scheme %q", slug, p.Scheme)
	}
	return nil
}

// DegradedProviders lists enabled providers missing key material.
// Only meaningful when the AllowUnsigned bypass is active.
func (c Config) DegradedProviders() []string {
	var out []string
	for slug, p := range c.Webhooks.Providers {
		if p.Enabled && p.validate(slug) != nil {
			out = append(out, slug)
		}
	}
	return out
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func intEnvDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func boolEnv(key string) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
