package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             string         `yaml:"port"`
	Env              string         `yaml:"env"`
	LogLevel         string         `yaml:"log_level"`
	DiscoveryProfile string         `yaml:"discovery_profile"`
	SessionPrefix    string         `yaml:"session_prefix"`
	TraceDir         string         `yaml:"trace_dir"`
	Sandbox          SandboxConfig  `yaml:"sandbox"`
	Tool             ToolConfig     `yaml:"tool"`
	Upload           UploadConfig   `yaml:"upload"`
	Artifact         ArtifactConfig `yaml:"-"`
}

type SandboxConfig struct {
	// Mode selects the backend: local or docker.
	Mode        string        `yaml:"mode"`
	Root        string        `yaml:"root"`
	Image       string        `yaml:"image"`
	Shell       string        `yaml:"shell"`
	Workspace   string        `yaml:"workspace"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`
	MaxSessions int           `yaml:"max_sessions"`
}

type ToolConfig struct {
	Binary string  `yaml:"binary"`
	RPS    float64 `yaml:"rps"`
	Burst  int     `yaml:"burst"`
}

type UploadConfig struct {
	MaxBytes    int64         `yaml:"max_bytes"`
	TTL         time.Duration `yaml:"ttl"`
	DatabaseURL string        `yaml:"database_url"`
}

// ArtifactConfig points the upload relay at an S3-compatible object store.
type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c ArtifactConfig) CanUseS3() bool {
	return c.Enabled && c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

func defaults() Config {
	return Config{
		Port:             ":8081",
		Env:              "local",
		DiscoveryProfile: "magento",
		SessionPrefix:    "m2",
		Sandbox: SandboxConfig{
			Mode:        "local",
			ExecTimeout: 30 * time.Minute,
			MaxSessions: 256,
		},
		Tool:   ToolConfig{Binary: "claude", RPS: 2, Burst: 4},
		Upload: UploadConfig{MaxBytes: 256 << 20, TTL: 30 * time.Minute},
	}
}

// Load reads .env, then the YAML file at path (or CONFIG_FILE), then the
// process environment. Later sources win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	path = firstNonEmpty(strings.TrimSpace(path), strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.Port = normalizePort(cfg.Port)
	cfg.Artifact = loadArtifactConfig(cfg.Env)
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = firstNonEmpty(env("PORT"), cfg.Port)
	cfg.Env = firstNonEmpty(env("APP_ENV"), cfg.Env)
	cfg.LogLevel = firstNonEmpty(env("LOG_LEVEL"), cfg.LogLevel)
	cfg.DiscoveryProfile = firstNonEmpty(env("DISCOVERY_PROFILE"), cfg.DiscoveryProfile)
	cfg.SessionPrefix = firstNonEmpty(env("SESSION_PREFIX"), cfg.SessionPrefix)
	cfg.TraceDir = firstNonEmpty(env("TRACE_DIR"), cfg.TraceDir)

	cfg.Sandbox.Mode = strings.ToLower(firstNonEmpty(env("SANDBOX_MODE"), cfg.Sandbox.Mode))
	cfg.Sandbox.Root = firstNonEmpty(env("SANDBOX_ROOT"), cfg.Sandbox.Root)
	cfg.Sandbox.Image = firstNonEmpty(env("SANDBOX_IMAGE"), cfg.Sandbox.Image)
	cfg.Sandbox.Shell = firstNonEmpty(env("SANDBOX_SHELL"), cfg.Sandbox.Shell)
	cfg.Sandbox.Workspace = firstNonEmpty(env("WORKSPACE_DIR"), cfg.Sandbox.Workspace)
	cfg.Tool.Binary = firstNonEmpty(env("TOOL_BINARY"), cfg.Tool.Binary)
	cfg.Upload.DatabaseURL = firstNonEmpty(env("UPLOAD_DATABASE_URL"), cfg.Upload.DatabaseURL)

	var err error
	if cfg.Sandbox.ExecTimeout, err = envDuration("SANDBOX_EXEC_TIMEOUT", cfg.Sandbox.ExecTimeout); err != nil {
		return err
	}
	if cfg.Sandbox.MaxSessions, err = envInt("SANDBOX_MAX_SESSIONS", cfg.Sandbox.MaxSessions); err != nil {
		return err
	}
	if cfg.Tool.RPS, err = envFloat("TOOL_RPS", cfg.Tool.RPS); err != nil {
		return err
	}
	if cfg.Tool.Burst, err = envInt("TOOL_BURST", cfg.Tool.Burst); err != nil {
		return err
	}
	maxBytes, err := envInt("UPLOAD_MAX_BYTES", int(cfg.Upload.MaxBytes))
	if err != nil {
		return err
	}
	cfg.Upload.MaxBytes = int64(maxBytes)
	if cfg.Upload.TTL, err = envDuration("UPLOAD_TTL", cfg.Upload.TTL); err != nil {
		return err
	}
	return nil
}

func loadArtifactConfig(appEnv string) ArtifactConfig {
	endpoint := resolveArtifactEndpoint(appEnv)
	local := strings.EqualFold(strings.TrimSpace(appEnv), "local")
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(env("ARTIFACT_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY"), env("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(env("ARTIFACT_S3_BUCKET"), "repoanalyzer-uploads"),
		UseSSL:    !local && resolveArtifactUseSSL(),
	}
}

func resolveArtifactEndpoint(appEnv string) string {
	if strings.EqualFold(strings.TrimSpace(appEnv), "local") {
		return firstNonEmpty(env("ARTIFACT_MINIO_ENDPOINT"), env("ARTIFACT_S3_ENDPOINT"))
	}
	return env("ARTIFACT_S3_ENDPOINT")
}

func resolveArtifactUseSSL() bool {
	raw := env("ARTIFACT_S3_USE_SSL")
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

// EnvSnapshot returns the non-empty values of keys from the process
// environment.
func EnvSnapshot(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v := env(k); v != "" {
			out[k] = v
		}
	}
	return out
}

func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string, fallback int) (int, error) {
	raw := env(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := env(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
