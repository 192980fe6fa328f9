package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	CORS        CORSConfig
	Pipeline    PipelineConfig
	Remote      RemoteConfig
	Blobs       BlobsConfig
	Diagnostics DiagnosticsConfig
}

// DatabaseConfig locates the revision state database.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig locates the optional blob read-through cache.
type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	DialTimeout time.Duration
}

// JWTConfig holds the secret used to verify tokens issued by the external auth service.
type JWTConfig struct {
	Secret string
}

// CORSConfig lists browser origins allowed to call the API and fetch blob links.
type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level   string
	Format  string
	Service string
}

// PipelineConfig drives the periodic check pipeline.
type PipelineConfig struct {
	Enabled              bool
	AssignmentIDs        []int64       `validate:"required_if=Enabled true"`
	Period               time.Duration `validate:"gt=0"`
	Timeout              time.Duration `validate:"gte=0"`
	StartImmediately     bool
	MaxConsecutiveErrors int           `validate:"gte=0"`
	CrashloopPeriod      time.Duration `validate:"gte=0"`
	// MaxAttemptsPerCycle bounds how many times one revision is retried inside a
	// single cycle. Zero keeps retrying until selection stops returning it.
	MaxAttemptsPerCycle int `validate:"gte=0"`
}

// RemoteConfig describes the SSH transport to the remote test worker.
type RemoteConfig struct {
	Host           string `validate:"required"`
	Port           int    `validate:"gt=0,lte=65535"`
	Username       string `validate:"required"`
	KnownHostsFile string `validate:"required"`
	PrivateKeyFile string `validate:"required"`
	HarnessCommand string `validate:"required"`
	Parallelism    int    `validate:"gt=0"`
	WorkRoot       string `validate:"required"`
	DialTimeout    time.Duration
}

// BlobsConfig controls blob read caching and signed download links.
type BlobsConfig struct {
	CacheTTL   time.Duration
	LinkSecret string
	LinkTTL    time.Duration
	PublicURL  string
}

// DiagnosticsConfig controls where raw harness output is kept for failed parses.
type DiagnosticsConfig struct {
	Dir             string
	Retention       time.Duration
	CleanupInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),

		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),

		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),

		Service: v.GetString("LOG_SERVICE_NAME"),
	}

	assignmentIDs, err := parseIDs(v.GetString("PIPELINE_ASSIGNMENT_IDS"))
	if err != nil {
		return nil, err
	}
	period := parseDuration(v.GetString("PIPELINE_PERIOD"), time.Minute)
	cfg.Pipeline = PipelineConfig{
		Enabled:              v.GetBool("ENABLE_PIPELINE"),
		AssignmentIDs:        assignmentIDs,
		Period:               period,
		Timeout:              parseDuration(v.GetString("PIPELINE_TIMEOUT"), 0),
		StartImmediately:     v.GetBool("PIPELINE_START_IMMEDIATELY"),
		MaxConsecutiveErrors: v.GetInt("PIPELINE_MAX_CONSECUTIVE_ERRORS"),
		CrashloopPeriod:      parseDuration(v.GetString("PIPELINE_CRASHLOOP_PERIOD"), 5*period),
		MaxAttemptsPerCycle:  v.GetInt("PIPELINE_MAX_ATTEMPTS_PER_CYCLE"),
	}

	cfg.Remote = RemoteConfig{
		Host:           v.GetString("REMOTE_HOST"),
		Port:           v.GetInt("REMOTE_PORT"),
		Username:       v.GetString("REMOTE_USERNAME"),
		KnownHostsFile: v.GetString("REMOTE_KNOWN_HOSTS"),
		PrivateKeyFile: v.GetString("REMOTE_PRIVATE_KEY"),
		HarnessCommand: v.GetString("REMOTE_HARNESS_COMMAND"),
		Parallelism:    v.GetInt("REMOTE_PARALLELISM"),
		WorkRoot:       v.GetString("REMOTE_WORK_ROOT"),
		DialTimeout:    parseDuration(v.GetString("REMOTE_DIAL_TIMEOUT"), 30*time.Second),
	}

	cfg.Blobs = BlobsConfig{
		CacheTTL:   parseDuration(v.GetString("BLOBS_CACHE_TTL"), time.Hour),
		LinkSecret: v.GetString("BLOBS_LINK_SECRET"),
		LinkTTL:    parseDuration(v.GetString("BLOBS_LINK_TTL"), 30*24*time.Hour),
		PublicURL:  strings.TrimRight(v.GetString("BLOBS_PUBLIC_URL"), "/"),
	}

	cfg.Diagnostics = DiagnosticsConfig{
		Dir:             v.GetString("DIAGNOSTICS_DIR"),
		Retention:       parseDuration(v.GetString("DIAGNOSTICS_RETENTION"), 7*24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("DIAGNOSTICS_CLEANUP_INTERVAL"), time.Hour),
	}

	return cfg, nil
}

// Validate checks the sections required by enabled features.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c.Pipeline); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	if c.Pipeline.Enabled {
		if err := validate.Struct(c.Remote); err != nil {
			return fmt.Errorf("invalid remote config: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "revision_checker")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_SERVICE_NAME", "revision-checker")

	v.SetDefault("ENABLE_PIPELINE", false)
	v.SetDefault("PIPELINE_ASSIGNMENT_IDS", "")
	v.SetDefault("PIPELINE_PERIOD", "1m")
	v.SetDefault("PIPELINE_TIMEOUT", "")
	v.SetDefault("PIPELINE_START_IMMEDIATELY", true)
	v.SetDefault("PIPELINE_MAX_CONSECUTIVE_ERRORS", 20)
	v.SetDefault("PIPELINE_CRASHLOOP_PERIOD", "")
	v.SetDefault("PIPELINE_MAX_ATTEMPTS_PER_CYCLE", 0)

	v.SetDefault("REMOTE_HOST", "")
	v.SetDefault("REMOTE_PORT", 22)
	v.SetDefault("REMOTE_USERNAME", "cpptest")
	v.SetDefault("REMOTE_KNOWN_HOSTS", "./known_hosts")
	v.SetDefault("REMOTE_PRIVATE_KEY", "./id_ed25519")
	v.SetDefault("REMOTE_HARNESS_COMMAND", "/home/cpptest/env/bin/python -u testing.py")
	v.SetDefault("REMOTE_PARALLELISM", 8)
	v.SetDefault("REMOTE_WORK_ROOT", "check")
	v.SetDefault("REMOTE_DIAL_TIMEOUT", "30s")

	v.SetDefault("BLOBS_CACHE_TTL", "1h")
	v.SetDefault("BLOBS_LINK_SECRET", "dev_blob_links_secret")
	v.SetDefault("BLOBS_LINK_TTL", "720h")
	v.SetDefault("BLOBS_PUBLIC_URL", "http://localhost:8080")

	v.SetDefault("DIAGNOSTICS_DIR", "./diagnostics")
	v.SetDefault("DIAGNOSTICS_RETENTION", "168h")
	v.SetDefault("DIAGNOSTICS_CLEANUP_INTERVAL", "1h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseIDs(raw string) ([]int64, error) {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	// Each id gets its own scheduler; duplicates would run overlapping cycles.
	ids := make([]int64, 0, len(parts))
	seen := make(map[int64]struct{}, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid assignment id %q: %w", part, err)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
