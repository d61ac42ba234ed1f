package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP Server Configuration
	HTTPPort int
	BaseURL  string

	// Database Configuration
	DatabaseURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Engine
	EscalationInterval  time.Duration
	EscalationWorkers   int
	GroupWindowMinutes  int
	GroupWindowFromEnv  bool
	GroupReaperInterval time.Duration
	CatalogFile         string

	// Authentication Configuration
	AuthEnabled        bool
	AdminUsername      string
	AdminPassword      string
	JWTSecret          string
	JWTExpiryHours     int
	CORSAllowedOrigins []string

	// Notification transports
	SMTPURL             string
	SMSURL              string
	WebhookURLs         map[string]string
	SlackBotToken       string
	NotifyRatePerSecond float64

	// MQTT alert source
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
}

// Load reads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("http_port", 3000)
	v.SetDefault("base_url", "http://localhost:3000")
	v.SetDefault("database_url", "file:alertflow.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("escalation_interval_seconds", 30)
	v.SetDefault("escalation_workers", 1)
	v.SetDefault("group_reaper_interval_seconds", 60)
	v.SetDefault("auth_enabled", false)
	v.SetDefault("admin_username", "admin")
	v.SetDefault("jwt_expiry_hours", 24)
	v.SetDefault("jwt_secret_file", ".alertflow/jwt_secret")
	v.SetDefault("cors_allowed_origins", "*")
	v.SetDefault("notify_rate_per_second", 5.0)
	v.SetDefault("mqtt_topic", "alertflow/alerts/#")
	v.SetDefault("mqtt_client_id", "alertflow")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		HTTPPort:            v.GetInt("http_port"),
		BaseURL:             v.GetString("base_url"),
		DatabaseURL:         v.GetString("database_url"),
		LogLevel:            v.GetString("log_level"),
		LogFormat:           v.GetString("log_format"),
		EscalationInterval:  time.Duration(v.GetInt("escalation_interval_seconds")) * time.Second,
		EscalationWorkers:   v.GetInt("escalation_workers"),
		GroupReaperInterval: time.Duration(v.GetInt("group_reaper_interval_seconds")) * time.Second,
		CatalogFile:         v.GetString("catalog_file"),
		AuthEnabled:         v.GetBool("auth_enabled"),
		AdminUsername:       v.GetString("admin_username"),
		AdminPassword:       v.GetString("admin_password"), // No default - must be set when auth is enabled
		JWTExpiryHours:      v.GetInt("jwt_expiry_hours"),
		CORSAllowedOrigins:  splitList(v.GetString("cors_allowed_origins")),
		SMTPURL:             v.GetString("smtp_url"),
		SMSURL:              v.GetString("sms_url"),
		SlackBotToken:       v.GetString("slack_bot_token"),
		NotifyRatePerSecond: v.GetFloat64("notify_rate_per_second"),
		MQTTBroker:          v.GetString("mqtt_broker"),
		MQTTTopic:           v.GetString("mqtt_topic"),
		MQTTClientID:        v.GetString("mqtt_client_id"),
	}

	// Only an explicit value overrides the window stored in engine settings
	cfg.GroupWindowFromEnv = v.IsSet("group_window_minutes")
	cfg.GroupWindowMinutes = 5
	if cfg.GroupWindowFromEnv {
		cfg.GroupWindowMinutes = v.GetInt("group_window_minutes")
	}

	webhooks, err := ParseWebhookURLs(v.GetString("webhook_urls"))
	if err != nil {
		return nil, err
	}
	cfg.WebhookURLs = webhooks

	if cfg.AuthEnabled {
		if cfg.AdminPassword == "" {
			return nil, fmt.Errorf("ADMIN_PASSWORD must be set when AUTH_ENABLED is true")
		}
		cfg.JWTSecret = loadOrGenerateJWTSecret(v.GetString("jwt_secret"), v.GetString("jwt_secret_file"))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.EscalationInterval <= 0 {
		return fmt.Errorf("ESCALATION_INTERVAL_SECONDS must be positive")
	}
	if c.EscalationWorkers < 1 {
		return fmt.Errorf("ESCALATION_WORKERS must be at least 1")
	}
	if c.GroupWindowMinutes <= 0 {
		return fmt.Errorf("GROUP_WINDOW_MINUTES must be positive")
	}
	if c.GroupReaperInterval <= 0 {
		return fmt.Errorf("GROUP_REAPER_INTERVAL_SECONDS must be positive")
	}
	if c.NotifyRatePerSecond < 0 {
		return fmt.Errorf("NOTIFY_RATE_PER_SECOND must not be negative")
	}
	return nil
}

// ParseWebhookURLs parses a comma separated list of name=url pairs
func ParseWebhookURLs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(raw) {
		name, url, ok := strings.Cut(pair, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid WEBHOOK_URLS entry %q, expected name=url", pair)
		}
		out[name] = url
	}
	return out, nil
}

// SetupLogging configures the global logger
func SetupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	log.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadOrGenerateJWTSecret returns the configured secret, or loads one from
// secretPath, generating and persisting it on first use.
func loadOrGenerateJWTSecret(envSecret, secretPath string) string {
	if envSecret != "" {
		log.Info("Using JWT secret from environment variable")
		return envSecret
	}

	if data, err := os.ReadFile(secretPath); err == nil {
		secret := strings.TrimSpace(string(data))
		if secret != "" {
			log.Infof("Loaded JWT secret from %s", secretPath)
			return secret
		}
	}

	secret := generateSecureSecret(32) // 256 bits

	if err := os.MkdirAll(filepath.Dir(secretPath), 0755); err != nil {
		log.Warnf("Could not create directory for JWT secret: %v", err)
		return secret
	}
	if err := os.WriteFile(secretPath, []byte(secret), 0600); err != nil {
		log.Warnf("Could not save JWT secret to file: %v", err)
	} else {
		log.Infof("Generated and saved new JWT secret to %s", secretPath)
	}
	return secret
}

// generateSecureSecret generates a cryptographically secure random string
func generateSecureSecret(bytes int) string {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		log.Warnf("Could not generate secure random bytes: %v", err)
		return "fallback-insecure-secret-please-set-jwt-secret-env"
	}
	return hex.EncodeToString(b)
}
