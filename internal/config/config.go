/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables,
// optionally overlaid with a YAML file for the transcode profile and resolver
// arguments (BRAGI_CONFIG_FILE).
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend   DatabaseBackend
	DBDSN       string

	// Resolver process (yt-dlp compatible: prints one direct media URL on stdout)
	ResolverBin     string
	ResolverArgs    []string
	ResolverTimeout time.Duration

	// Transcoder process (ffmpeg compatible). Args is an argv template with
	// {input} and {seek} placeholders; the output profile is fixed system-wide.
	TranscoderBin         string
	TranscoderArgs        []string
	TranscodeContentType  string
	TranscoderKillTimeout time.Duration

	// URL resolution cache
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Catalog search collaborator
	CatalogBaseURL string
	CatalogAPIKey  string

	// Artwork cache storage
	ArtworkRoot string

	JWTSigningKey string
	SessionTTL    time.Duration
	MetricsBind   string

	// Per-IP request limit for the stream endpoint (requests per minute, 0 disables)
	StreamRateLimit int

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// External event bus (optional mirrors of the in-process bus)
	NATSAddr   string
	InstanceID string
}

// fileOverlay is the YAML shape accepted via BRAGI_CONFIG_FILE. Only the
// process contracts live here; everything else stays in the environment.
type fileOverlay struct {
	Resolver struct {
		Bin  string   `yaml:"bin"`
		Args []string `yaml:"args"`
	} `yaml:"resolver"`
	Transcoder struct {
		Bin         string   `yaml:"bin"`
		Args        []string `yaml:"args"`
		ContentType string   `yaml:"content_type"`
	} `yaml:"transcoder"`
}

// Load reads environment variables, applies defaults, overlays the optional
// config file, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("BRAGI_ENV", "development"),
		HTTPBind:    getEnv("BRAGI_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("BRAGI_HTTP_PORT", 8080),
		BaseURL:     getEnv("BRAGI_BASE_URL", ""),
		DBBackend:   DatabaseBackend(getEnv("BRAGI_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("BRAGI_DB_DSN", ""),

		ResolverBin:     getEnv("BRAGI_RESOLVER_BIN", "yt-dlp"),
		ResolverArgs:    splitArgs(getEnv("BRAGI_RESOLVER_ARGS", "-f bestaudio --get-url")),
		ResolverTimeout: time.Duration(getEnvInt("BRAGI_RESOLVER_TIMEOUT_SECONDS", 30)) * time.Second,

		TranscoderBin: getEnv("BRAGI_TRANSCODER_BIN", "ffmpeg"),
		TranscoderArgs: splitArgs(getEnv("BRAGI_TRANSCODER_ARGS",
			"-ss {seek} -i {input} -vn -acodec libmp3lame -b:a 192k -f mp3 pipe:1")),
		TranscodeContentType:  getEnv("BRAGI_TRANSCODE_CONTENT_TYPE", "audio/mpeg"),
		TranscoderKillTimeout: time.Duration(getEnvInt("BRAGI_TRANSCODER_KILL_TIMEOUT_SECONDS", 5)) * time.Second,

		CacheTTL:      time.Duration(getEnvInt("BRAGI_CACHE_TTL_SECONDS", 3600)) * time.Second,
		RedisAddr:     getEnv("BRAGI_REDIS_ADDR", ""),
		RedisPassword: getEnv("BRAGI_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("BRAGI_REDIS_DB", 0),

		CatalogBaseURL: getEnv("BRAGI_CATALOG_BASE_URL", "https://www.googleapis.com/youtube/v3"),
		CatalogAPIKey:  getEnv("BRAGI_CATALOG_API_KEY", ""),

		ArtworkRoot: getEnv("BRAGI_ARTWORK_ROOT", "./artwork"),

		JWTSigningKey: getEnv("BRAGI_JWT_SIGNING_KEY", ""),
		SessionTTL:    time.Duration(getEnvInt("BRAGI_SESSION_TTL_MINUTES", 720)) * time.Minute,
		MetricsBind:   getEnv("BRAGI_METRICS_BIND", "127.0.0.1:9000"),

		StreamRateLimit: getEnvInt("BRAGI_STREAM_RATE_LIMIT", 60),

		S3AccessKeyID:     getEnvAny([]string{"BRAGI_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"BRAGI_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"BRAGI_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"BRAGI_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"BRAGI_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"BRAGI_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"BRAGI_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TracingEnabled:    getEnvBool("BRAGI_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("BRAGI_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("BRAGI_TRACING_SAMPLE_RATE", 1.0),

		NATSAddr:   getEnv("BRAGI_NATS_ADDR", ""),
		InstanceID: getEnv("BRAGI_INSTANCE_ID", ""),
	}

	if path := os.Getenv("BRAGI_CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("BRAGI_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("BRAGI_JWT_SIGNING_KEY must be provided")
	}

	if !containsPlaceholder(cfg.TranscoderArgs, "{input}") {
		return nil, fmt.Errorf("transcoder args must contain the {input} placeholder")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.CatalogAPIKey == "" {
		return nil, fmt.Errorf("BRAGI_CATALOG_API_KEY must be provided in production")
	}

	return cfg, nil
}

func (c *Config) applyOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return err
	}
	if overlay.Resolver.Bin != "" {
		c.ResolverBin = overlay.Resolver.Bin
	}
	if len(overlay.Resolver.Args) > 0 {
		c.ResolverArgs = overlay.Resolver.Args
	}
	if overlay.Transcoder.Bin != "" {
		c.TranscoderBin = overlay.Transcoder.Bin
	}
	if len(overlay.Transcoder.Args) > 0 {
		c.TranscoderArgs = overlay.Transcoder.Args
	}
	if overlay.Transcoder.ContentType != "" {
		c.TranscodeContentType = overlay.Transcoder.ContentType
	}
	return nil
}

func containsPlaceholder(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

func splitArgs(s string) []string {
	return strings.Fields(s)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	return getEnvBoolAny([]string{key}, def)
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}
