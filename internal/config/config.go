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

// Config holds all configuration required by the dialer processes.
// Values come from env; a local .env file is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Provider   ProviderConfig
	Summarizer SummarizerConfig
	Bulk       BulkConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When Host is empty the in-flight guard falls back
// to the persisted active session marker only.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ProviderConfig configures the voice-AI calling platform client.
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	FromNumber     string
	DefaultAgentID string
	WebhookSecret  string
	Timeout        time.Duration
}

type SummarizerConfig struct {
	// Backend is one of gemini, openai, none.
	Backend string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type BulkConfig struct {
	// NextCallDelay is the pause before dialing the next candidate after a terminal webhook.
	NextCallDelay time.Duration
	// InFlightTTL bounds how long a campaign slot may stay held if a terminal webhook never arrives.
	InFlightTTL time.Duration
}

func Load() (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

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
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Provider.BaseURL = strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))
	c.Provider.APIKey = os.Getenv("PROVIDER_API_KEY")
	c.Provider.FromNumber = strings.TrimSpace(os.Getenv("PROVIDER_FROM_NUMBER"))
	c.Provider.DefaultAgentID = strings.TrimSpace(os.Getenv("PROVIDER_AGENT_ID"))
	c.Provider.WebhookSecret = os.Getenv("PROVIDER_WEBHOOK_SECRET")
	c.Provider.Timeout = mustDuration("PROVIDER_TIMEOUT")

	c.Summarizer.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("SUMMARIZER_BACKEND")))
	c.Summarizer.APIKey = os.Getenv("SUMMARIZER_API_KEY")
	c.Summarizer.Model = strings.TrimSpace(os.Getenv("SUMMARIZER_MODEL"))
	c.Summarizer.Timeout = mustDuration("SUMMARIZER_TIMEOUT")

	c.Bulk.NextCallDelay = mustDuration("BULK_NEXT_CALL_DELAY")
	c.Bulk.InFlightTTL = mustDuration("BULK_INFLIGHT_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
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
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.retellai.com"
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("PROVIDER_API_KEY is required"))
	}
	if c.Provider.FromNumber == "" {
		errs = append(errs, errors.New("PROVIDER_FROM_NUMBER is required"))
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 15 * time.Second
	}
	if c.IsProduction() && c.Provider.WebhookSecret == "" {
		errs = append(errs, errors.New("PROVIDER_WEBHOOK_SECRET is required in production"))
	}

	if c.Summarizer.Backend == "" {
		c.Summarizer.Backend = "none"
	}
	switch c.Summarizer.Backend {
	case "none":
	case "gemini", "openai":
		if c.Summarizer.APIKey == "" {
			errs = append(errs, fmt.Errorf("SUMMARIZER_API_KEY is required for backend %q", c.Summarizer.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("SUMMARIZER_BACKEND must be one of gemini, openai, none, got %q", c.Summarizer.Backend))
	}
	if c.Summarizer.Model == "" {
		switch c.Summarizer.Backend {
		case "gemini":
			c.Summarizer.Model = "gemini-2.0-flash"
		case "openai":
			c.Summarizer.Model = "gpt-4o-mini"
		}
	}
	if c.Summarizer.Timeout <= 0 {
		c.Summarizer.Timeout = 30 * time.Second
	}

	if c.Bulk.NextCallDelay < 0 {
		errs = append(errs, errors.New("BULK_NEXT_CALL_DELAY must not be negative"))
	}
	if c.Bulk.InFlightTTL <= 0 {
		c.Bulk.InFlightTTL = 2 * time.Hour
	}

	return joinErrors(errs)
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
	if c.Redis.Host == "" {
		return ""
	}
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

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
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
