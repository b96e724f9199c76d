package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "APP_ENV", "LOG_LEVEL", "SANDBOX_MODE", "SANDBOX_MAX_SESSIONS",
		"TOOL_RPS", "TOOL_BURST", "UPLOAD_TTL", "UPLOAD_MAX_BYTES", "SANDBOX_EXEC_TIMEOUT",
		"ARTIFACT_S3_ENDPOINT", "ARTIFACT_MINIO_ENDPOINT", "ARTIFACT_S3_ACCESS_KEY",
		"ARTIFACT_S3_SECRET_KEY", "MINIO_ROOT_USER", "MINIO_ROOT_PASSWORD", "ARTIFACT_S3_USE_SSL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, "local", cfg.Sandbox.Mode)
	assert.Equal(t, "magento", cfg.DiscoveryProfile)
	assert.Equal(t, 30*time.Minute, cfg.Upload.TTL)
	assert.False(t, cfg.Artifact.CanUseS3())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
sandbox:
  mode: docker
  image: analyzer:dev
  exec_timeout: 5m
tool:
  rps: 0.5
upload:
  ttl: 10m
`), 0o644))
	t.Setenv("TOOL_BURST", "7")
	t.Setenv("SANDBOX_MODE", "LOCAL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, "local", cfg.Sandbox.Mode, "environment wins over yaml")
	assert.Equal(t, "analyzer:dev", cfg.Sandbox.Image)
	assert.Equal(t, 5*time.Minute, cfg.Sandbox.ExecTimeout)
	assert.Equal(t, 0.5, cfg.Tool.RPS)
	assert.Equal(t, 7, cfg.Tool.Burst)
	assert.Equal(t, 10*time.Minute, cfg.Upload.TTL)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOOL_RPS", "fast")
	_, err := Load("")
	require.Error(t, err)
}

func TestArtifactConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("ARTIFACT_S3_ENDPOINT", "s3.example.com")
	t.Setenv("ARTIFACT_S3_ACCESS_KEY", "ak")
	t.Setenv("ARTIFACT_S3_SECRET_KEY", "sk")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Artifact.CanUseS3())
	assert.True(t, cfg.Artifact.UseSSL)
	assert.Equal(t, "repoanalyzer-uploads", cfg.Artifact.Bucket)
}

func TestEnvSnapshot(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "k")
	t.Setenv("AWS_REGION", "")
	snap := EnvSnapshot([]string{"ANTHROPIC_API_KEY", "AWS_REGION"})
	assert.Equal(t, map[string]string{"ANTHROPIC_API_KEY": "k"}, snap)
}
