package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

ingest:
  max_file_size_mb: 10
  supported_types: ["xlsx"]

storage:
  type: "aws"
  dynamodb_table: "sheetguard-test"
  s3_bucket: "sheetguard-files"
  aws_region: "us-east-1"

email:
  enabled: true
  sender_address: "validation@example.com"
  timeout_seconds: 45

notify:
  reminder_window_hours: 24
  reminder_sweep_cap: 5
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 10, cfg.Ingest.MaxFileSizeMB)
	assert.Equal(t, int64(10*1024*1024), cfg.Ingest.MaxBytes())
	assert.Equal(t, []string{"xlsx"}, cfg.Ingest.SupportedTypes)

	assert.Equal(t, "aws", cfg.Storage.Type)
	assert.Equal(t, "sheetguard-test", cfg.Storage.DynamoDBTable)
	assert.Equal(t, "sheetguard-files", cfg.Storage.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.Storage.AWSRegion)

	assert.True(t, cfg.Email.Enabled)
	assert.Equal(t, "validation@example.com", cfg.Email.SenderAddress)
	assert.Equal(t, 45*time.Second, cfg.Email.Timeout())

	assert.Equal(t, 24*time.Hour, cfg.Notify.ReminderWindow())
	assert.Equal(t, 5, cfg.Notify.ReminderSweepCap)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 50, cfg.Ingest.MaxFileSizeMB)
	assert.Equal(t, []string{"xlsx", "csv"}, cfg.Ingest.SupportedTypes)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 72, cfg.Notify.ReminderWindowHours)
	assert.Equal(t, 50, cfg.Notify.ReminderSweepCap)
	assert.Equal(t, "email", cfg.Notify.EmailLookupField)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644)
	require.NoError(t, err)

	t.Setenv("MAX_FILE_SIZE_MB", "25")
	t.Setenv("SUPPORTED_FILE_TYPES", "xlsx, csv , tsv")
	t.Setenv("DYNAMODB_TABLE", "override-table")
	t.Setenv("REMINDER_WINDOW_HOURS", "48")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Ingest.MaxFileSizeMB)
	assert.Equal(t, []string{"xlsx", "csv", "tsv"}, cfg.Ingest.SupportedTypes)
	assert.Equal(t, "override-table", cfg.Storage.DynamoDBTable)
	assert.Equal(t, "aws", cfg.Storage.Type)
	assert.Equal(t, 48, cfg.Notify.ReminderWindowHours)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
