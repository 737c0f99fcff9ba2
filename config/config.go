// Package config loads the server configuration from environment
// variables. A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config groups every setting by concern.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Upload   UploadConfig
	Media    MediaConfig
	Calls    CallsConfig
	Alerts   AlertsConfig
	Crypto   CryptoConfig
	Limits   LimitsConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	Environment string   // development | production
	CORSOrigins []string // allowed browser origins; "*" allows any
}

type LogConfig struct {
	Level string
}

type DatabaseConfig struct {
	Path string
}

type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// UploadConfig controls buffering of message attachments before they are
// handed to the media store.
type UploadConfig struct {
	TempDir string
	MaxSize int64 // bytes
	Retries uint64
	Timeout time.Duration
}

// MediaConfig selects the media store. Driver is "local" or "s3".
type MediaConfig struct {
	Driver   string
	LocalDir string
	BaseURL  string // URL prefix of locally stored files

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
}

// CallsConfig tunes the call security manager.
type CallsConfig struct {
	MaxCallsPerWindow int
	RateWindow        time.Duration
	ReplayWindow      time.Duration
	StaleAfter        time.Duration // health check reports "stale"
	CleanupAfter      time.Duration // sweep removes the session
	CleanupSchedule   string        // cron spec, e.g. "@every 30s"
	EventLogSize      int
}

// AlertsConfig enables optional alert sinks. Empty values disable a sink;
// critical events are always logged.
type AlertsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	ResendAPIKey string
	EmailFrom    string
	EmailTo      []string
}

// CryptoConfig holds the message content key. HexKey wins over Password.
type CryptoConfig struct {
	HexKey   string
	Password string
}

// LimitsConfig throttles abusive clients.
type LimitsConfig struct {
	MessagesPerWindow int
	MessageWindow     time.Duration
	MessageCooldown   time.Duration

	WSAuthFailures      int // failed handshakes per IP before blocking
	WSAuthFailureWindow time.Duration
}

// SecurityConfig lists the users allowed to read the security event log.
type SecurityConfig struct {
	OperatorIDs []int64
}

// Load reads the configuration. JWT_SECRET is required; malformed numbers
// and durations are reported as errors.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        p.int("SERVER_PORT", 8000),
			Environment: getEnv("APP_ENV", "development"),
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/serofero.db"),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: p.duration("JWT_ACCESS_EXPIRY", 30*time.Minute),
		},
		Upload: UploadConfig{
			TempDir: getEnv("UPLOAD_TEMP_DIR", "./data/temp_media"),
			MaxSize: p.int64("UPLOAD_MAX_SIZE", 25*1024*1024),
			Retries: uint64(p.int("UPLOAD_RETRIES", 3)),
			Timeout: p.duration("UPLOAD_TIMEOUT", 5*time.Minute),
		},
		Media: MediaConfig{
			Driver:      getEnv("MEDIA_DRIVER", "local"),
			LocalDir:    getEnv("MEDIA_LOCAL_DIR", "./data/uploads"),
			BaseURL:     getEnv("MEDIA_BASE_URL", "/api/uploads"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Bucket:    getEnv("S3_BUCKET", "serofero-media"),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3PublicURL: getEnv("S3_PUBLIC_URL", ""),
		},
		Calls: CallsConfig{
			MaxCallsPerWindow: p.int("CALL_RATE_LIMIT", 10),
			RateWindow:        p.duration("CALL_RATE_WINDOW", 5*time.Minute),
			ReplayWindow:      p.duration("CALL_REPLAY_WINDOW", 30*time.Second),
			StaleAfter:        p.duration("CALL_STALE_AFTER", 30*time.Second),
			CleanupAfter:      p.duration("CALL_CLEANUP_AFTER", 60*time.Second),
			CleanupSchedule:   getEnv("CALL_CLEANUP_SCHEDULE", "@every 30s"),
			EventLogSize:      p.int("SECURITY_EVENT_LOG_SIZE", 1000),
		},
		Alerts: AlertsConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       p.int("REDIS_DB", 0),
			RedisChannel:  getEnv("ALERT_REDIS_CHANNEL", "security-alerts"),
			ResendAPIKey:  getEnv("RESEND_API_KEY", ""),
			EmailFrom:     getEnv("ALERT_EMAIL_FROM", ""),
			EmailTo:       splitList(getEnv("ALERT_EMAIL_TO", "")),
		},
		Crypto: CryptoConfig{
			HexKey:   getEnv("MESSAGE_ENCRYPTION_KEY", ""),
			Password: getEnv("ENCRYPTION_PASSWORD", "default-encryption-password-change-in-production"),
		},
		Limits: LimitsConfig{
			MessagesPerWindow:   p.int("MESSAGE_RATE_LIMIT", 30),
			MessageWindow:       p.duration("MESSAGE_RATE_WINDOW", 10*time.Second),
			MessageCooldown:     p.duration("MESSAGE_RATE_COOLDOWN", 30*time.Second),
			WSAuthFailures:      p.int("WS_AUTH_MAX_FAILURES", 20),
			WSAuthFailureWindow: p.duration("WS_AUTH_FAILURE_WINDOW", 5*time.Minute),
		},
		Security: SecurityConfig{
			OperatorIDs: p.ids("OPERATOR_USER_IDS"),
		},
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	switch c.Media.Driver {
	case "local":
	case "s3":
		if c.Media.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when MEDIA_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown MEDIA_DRIVER %q", c.Media.Driver)
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("UPLOAD_MAX_SIZE must be positive")
	}
	if c.Calls.MaxCallsPerWindow <= 0 || c.Calls.EventLogSize <= 0 {
		return fmt.Errorf("CALL_RATE_LIMIT and SECURITY_EVENT_LOG_SIZE must be positive")
	}
	if c.Limits.MessagesPerWindow <= 0 || c.Limits.WSAuthFailures <= 0 {
		return fmt.Errorf("MESSAGE_RATE_LIMIT and WS_AUTH_MAX_FAILURES must be positive")
	}
	if c.Upload.Retries > 10 {
		return fmt.Errorf("UPLOAD_RETRIES must be at most 10")
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether the server runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// parser collects the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) int64(key string, fallback int64) int64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

// ids parses a comma separated list of user ids.
func (p *parser) ids(key string) []int64 {
	var out []int64
	for _, part := range splitList(getEnv(key, "")) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			if p.err == nil {
				p.err = fmt.Errorf("invalid %s: %w", key, err)
			}
			continue
		}
		out = append(out, id)
	}
	return out
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
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
