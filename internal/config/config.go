// Package config loads the server configuration from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	BaseURL  string `yaml:"baseURL"`
	// PasswordResetURL is the page reset emails link to. Empty uses the
	// server's own /reset-password form.
	PasswordResetURL string `yaml:"passwordResetURL"`

	// DatabaseURL selects the Postgres backend; empty keeps everything in
	// memory.
	DatabaseURL string `yaml:"databaseURL"`
	// RedisAddr selects Redis for client storage; empty uses files under
	// PreferencesDir.
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	PreferencesDir string `yaml:"preferencesDir"`

	NewcomerWindow    time.Duration `yaml:"newcomerWindow"`
	ResendCooldown    time.Duration `yaml:"resendCooldown"`
	SessionMaxAge     time.Duration `yaml:"sessionMaxAge"`
	SessionCacheTTL   time.Duration `yaml:"sessionCacheTTL"`
	ClientIdleTimeout time.Duration `yaml:"clientIdleTimeout"`
	MaxClients        int           `yaml:"maxClients"`
	CensorWords       []string      `yaml:"censorWords"`
	CensorMask        string        `yaml:"censorMask"`
	SecureCookies     bool          `yaml:"secureCookies"`

	// SMTP is optional; without it mail is logged.
	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     string `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
	SMTPFrom     string `yaml:"smtpFrom"`
}

func Default() Config {
	return Config{
		Port:              "8080",
		LogLevel:          "info",
		BaseURL:           "http://localhost:8080",
		PreferencesDir:    "./data/prefs",
		NewcomerWindow:    8760 * time.Hour,
		ResendCooldown:    60 * time.Second,
		SessionMaxAge:     720 * time.Hour,
		SessionCacheTTL:   5 * time.Minute,
		ClientIdleTimeout: 30 * time.Minute,
		MaxClients:        10000,
		CensorMask:        "***",
		SMTPPort:          "587",
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	var errs []error
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.BaseURL = strings.TrimRight(getEnv("BASE_URL", cfg.BaseURL), "/")
	cfg.PasswordResetURL = getEnv("PASSWORD_RESET_URL", cfg.PasswordResetURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.PreferencesDir = getEnv("PREFERENCES_DIR", cfg.PreferencesDir)
	cfg.NewcomerWindow = getEnvDuration("NEWCOMER_WINDOW", cfg.NewcomerWindow, &errs)
	cfg.ResendCooldown = getEnvDuration("RESEND_COOLDOWN", cfg.ResendCooldown, &errs)
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", cfg.SessionMaxAge, &errs)
	cfg.SessionCacheTTL = getEnvDuration("SESSION_CACHE_TTL", cfg.SessionCacheTTL, &errs)
	cfg.ClientIdleTimeout = getEnvDuration("CLIENT_IDLE_TIMEOUT", cfg.ClientIdleTimeout, &errs)
	cfg.MaxClients = getEnvInt("MAX_CLIENTS", cfg.MaxClients, &errs)
	cfg.CensorWords = getEnvList("CENSOR_WORDS", cfg.CensorWords)
	cfg.CensorMask = getEnv("CENSOR_MASK", cfg.CensorMask)
	cfg.SecureCookies = getEnvBool("SECURE_COOKIES", cfg.SecureCookies, &errs)
	cfg.SMTPHost = getEnv("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getEnv("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = getEnv("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = getEnv("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = getEnv("SMTP_FROM_EMAIL", cfg.SMTPFrom)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	durations := map[string]time.Duration{
		"newcomerWindow":    c.NewcomerWindow,
		"resendCooldown":    c.ResendCooldown,
		"sessionMaxAge":     c.SessionMaxAge,
		"sessionCacheTTL":   c.SessionCacheTTL,
		"clientIdleTimeout": c.ClientIdleTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("maxClients must be positive, got %d", c.MaxClients)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool, errs *[]error) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
