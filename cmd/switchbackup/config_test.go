package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bueste/switchbackup/internal/runner"
	"github.com/bueste/switchbackup/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchbackup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "./config/connect.config", cfg.DevicesFile)
	assert.Equal(t, "./config/smtp.config", cfg.SMTPFile)
	assert.Equal(t, "./service.log", cfg.Log.File)
	assert.Equal(t, "./backups", cfg.Backup.Root)
	assert.Equal(t, 30*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, 8000, cfg.SSH.ReceiveBufferSize)
	assert.Equal(t, []models.VendorKind{models.VendorCisco}, cfg.SSH.FallbackVendors)
	assert.Equal(t, 2000, cfg.Harvest.MaxIterations)
	assert.Equal(t, 20*time.Second, cfg.Harvest.ReceiveTimeout)
	assert.Equal(t, runner.NotifyOnConnect, cfg.Notify.On)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.Empty(t, cfg.Audit.Database.URL)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
devices_file: /etc/switchbackup/connect.config
backup:
  root: /srv/backups
harvest:
  receive_timeout: 5s
  prompt_pattern: 'core\w+#'
notify:
  on: all
serve:
  schedule: "*/30 * * * *"
`)
	t.Setenv("SWITCHBACKUP_BACKUP_ROOT", "/mnt/backups")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/switchbackup/connect.config", cfg.DevicesFile)
	assert.Equal(t, "/mnt/backups", cfg.Backup.Root)
	assert.Equal(t, 5*time.Second, cfg.Harvest.ReceiveTimeout)
	assert.Equal(t, `core\w+#`, cfg.Harvest.PromptPattern)
	assert.Equal(t, runner.NotifyOnAll, cfg.Notify.On)
	assert.Equal(t, "*/30 * * * *", cfg.Serve.Schedule)

	rc := cfg.RunnerConfig()
	assert.Equal(t, runner.NotifyOnAll, rc.NotifyOn)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown notify policy", "notify:\n  on: sometimes\n"},
		{"malformed yaml", "backup: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, models.ErrFatalConfig)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, models.ErrFatalConfig)
}

func TestLoadConfig_FallbackVendorsFollowVendorTable(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "ssh:\n  fallback_vendors: [huawei]\n"))
	require.NoError(t, err)
	assert.Equal(t, []models.VendorKind{models.VendorCisco}, cfg.SSH.FallbackVendors)
}
