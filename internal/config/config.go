// Package config loads the configuration for both binaries.
//
// Sources, lowest to highest precedence:
//  1. Defaults set in setDefaults
//  2. A YAML file (CONFIG_PATH, default ./configs/config.yaml). Missing is fine.
//  3. Environment variables: NALAR_SERVER_PORT style for every key, plus the
//     short names in bindEnvVars (JWT_SECRET, GEMINI_API_KEY, ...)
//
// A .env file is loaded into the process environment first, so anything in it
// behaves exactly like a real environment variable.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PublicURL is the origin browsers use to reach the web service.
	// OAuth and email-verification redirects land on PublicURL + "/auth/callback".
	PublicURL       string        `mapstructure:"public_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
}

// DatabaseConfig selects the store. Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file
	URL      string `mapstructure:"url"`  // postgres DSN
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig enables the Redis-backed session denylist when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	CodeTTL      time.Duration `mapstructure:"code_ttl"`
	ConfirmEmail bool          `mapstructure:"confirm_email"`
	BcryptCost   int           `mapstructure:"bcrypt_cost"`
}

type OAuthConfig struct {
	Google OAuthClient `mapstructure:"google"`
	GitHub OAuthClient `mapstructure:"github"`
}

type OAuthClient struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Configured reports whether both halves of the client credentials are set.
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// BridgeConfig points the web service at the execution/explanation backend.
type BridgeConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkspaceConfig struct {
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

type RunnerConfig struct {
	Port int `mapstructure:"port"`
	// Executor is "docker" (default) or "local". The local executor runs
	// Python unsandboxed and is meant for development only.
	Executor string       `mapstructure:"executor"`
	Python   string       `mapstructure:"python"` // interpreter for the local executor
	Docker   DockerConfig `mapstructure:"docker"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

type DockerConfig struct {
	Image       string        `mapstructure:"image"`
	MemoryLimit int64         `mapstructure:"memory_limit"`
	CPULimit    float64       `mapstructure:"cpu_limit"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file path (empty means CONFIG_PATH
// or the default location) and the environment.
func Load(path string) (*Config, error) {
	// .env is optional; only a malformed file is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	v := viper.New()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "./configs/config.yaml"
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("NALAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("config: binding env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("config: database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Runner.Executor {
	case "docker", "local":
	default:
		return fmt.Errorf("config: unknown runner.executor %q", c.Runner.Executor)
	}
	if c.Server.PublicURL == "" {
		return errors.New("config: server.public_url must not be empty")
	}
	return nil
}

// CallbackURL is where OAuth and email-verification flows send the browser
// with a one-time code.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/auth/callback"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.public_url", "http://localhost:3000")
	v.SetDefault("server.read_timeout", "15s")
	// /run and /explain wait on the backend, so writes get more room than reads.
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.secure_cookies", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/nalar.db")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.session_ttl", "1h")
	v.SetDefault("auth.code_ttl", "24h")
	v.SetDefault("auth.confirm_email", true)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("bridge.base_url", "http://localhost:8000")
	v.SetDefault("bridge.timeout", "30s")

	v.SetDefault("workspace.idle_ttl", "30m")

	v.SetDefault("runner.port", 8000)
	v.SetDefault("runner.executor", "docker")
	v.SetDefault("runner.python", "python3")
	v.SetDefault("runner.docker.image", "python:3.12-alpine")
	v.SetDefault("runner.docker.memory_limit", 128*1024*1024)
	v.SetDefault("runner.docker.cpu_limit", 0.5)
	v.SetDefault("runner.docker.timeout", "5s")
	v.SetDefault("runner.docker.pool_size", 3)
	v.SetDefault("runner.gemini.model", "gemini-2.5-flash")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":                "PORT",
		"database.path":              "DB_PATH",
		"database.url":               "DATABASE_URL",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"auth.jwt_secret":            "JWT_SECRET",
		"oauth.google.client_id":     "GOOGLE_CLIENT_ID",
		"oauth.google.client_secret": "GOOGLE_CLIENT_SECRET",
		"oauth.github.client_id":     "GITHUB_CLIENT_ID",
		"oauth.github.client_secret": "GITHUB_CLIENT_SECRET",
		"bridge.base_url":            "BACKEND_URL",
		"runner.gemini.api_key":      "GEMINI_API_KEY",
	}
	for key, env := range bindings {
		// The NALAR_ prefixed name keeps working; the short name is an alias.
		prefixed := "NALAR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
