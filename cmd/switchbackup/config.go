package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bueste/switchbackup/internal/harvest"
	"github.com/bueste/switchbackup/internal/logging"
	"github.com/bueste/switchbackup/internal/notify"
	"github.com/bueste/switchbackup/internal/runner"
	"github.com/bueste/switchbackup/internal/transport"
	"github.com/bueste/switchbackup/pkg/models"
)

// Config is the application configuration
type Config struct {
	DevicesFile string                  `mapstructure:"devices_file"`
	SMTPFile    string                  `mapstructure:"smtp_file"`
	Log         logging.Config          `mapstructure:"log"`
	Backup      BackupConfig            `mapstructure:"backup"`
	SSH         transport.SSHConfig     `mapstructure:"ssh"`
	Harvest     harvest.HarvesterConfig `mapstructure:"harvest"`
	SMTP        notify.SMTPConfig       `mapstructure:"smtp"`
	Notify      NotifyConfig            `mapstructure:"notify"`
	Metrics     MetricsConfig           `mapstructure:"metrics"`
	Audit       AuditConfig             `mapstructure:"audit"`
	Serve       ServeConfig             `mapstructure:"serve"`
}

// BackupConfig locates the snapshot store
type BackupConfig struct {
	Root string `mapstructure:"root"`
}

// NotifyConfig selects which failures send mail
type NotifyConfig struct {
	On string `mapstructure:"on"`
}

// MetricsConfig contains metrics output settings
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// AuditConfig contains run history settings
type AuditConfig struct {
	Database    DatabaseConfig `mapstructure:"database"`
	MaxInMemory int            `mapstructure:"max_in_memory"`
}

// DatabaseConfig contains the Postgres connection for run history.
// An empty URL keeps history in memory.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServeConfig contains settings for the long-running mode
type ServeConfig struct {
	Addr            string        `mapstructure:"addr"`
	Schedule        string        `mapstructure:"schedule"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RunnerConfig returns the runner settings
func (c *Config) RunnerConfig() *runner.Config {
	return &runner.Config{
		NotifyOn:        c.Notify.On,
		MetricsTextfile: c.Metrics.Textfile,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("devices_file", "./config/connect.config")
	v.SetDefault("smtp_file", "./config/smtp.config")

	logCfg := logging.DefaultConfig()
	v.SetDefault("log.file", logCfg.File)
	v.SetDefault("log.stdout", logCfg.Stdout)
	v.SetDefault("log.level", logCfg.Level)

	v.SetDefault("backup.root", "./backups")

	sshCfg := transport.DefaultSSHConfig()
	v.SetDefault("ssh.connect_timeout", sshCfg.ConnectTimeout)
	v.SetDefault("ssh.connect_retries", sshCfg.ConnectRetries)
	v.SetDefault("ssh.retry_initial_interval", sshCfg.RetryInitialInterval)
	v.SetDefault("ssh.receive_buffer_size", sshCfg.ReceiveBufferSize)
	v.SetDefault("ssh.term_type", sshCfg.TermType)
	v.SetDefault("ssh.term_width", sshCfg.TermWidth)
	v.SetDefault("ssh.term_height", sshCfg.TermHeight)
	v.SetDefault("ssh.allow_legacy_algorithms", sshCfg.AllowLegacyAlgorithms)
	v.SetDefault("ssh.known_hosts_path", "")
	v.SetDefault("ssh.insecure_skip_verify", sshCfg.InsecureSkipVerify)
	v.SetDefault("ssh.login_line_delay", sshCfg.LoginLineDelay)

	harvestCfg := harvest.DefaultHarvesterConfig()
	v.SetDefault("harvest.max_iterations", harvestCfg.MaxIterations)
	v.SetDefault("harvest.receive_timeout", harvestCfg.ReceiveTimeout)
	v.SetDefault("harvest.max_output_bytes", harvestCfg.MaxOutputBytes)
	v.SetDefault("harvest.chunk_size", harvestCfg.ChunkSize)
	v.SetDefault("harvest.prompt_pattern", "")

	smtpCfg := notify.DefaultSMTPConfig()
	v.SetDefault("smtp.dial_timeout", smtpCfg.DialTimeout)
	v.SetDefault("smtp.send_timeout", smtpCfg.SendTimeout)
	v.SetDefault("smtp.insecure_skip_verify", smtpCfg.InsecureSkipVerify)
	v.SetDefault("smtp.local_name", smtpCfg.LocalName)

	v.SetDefault("notify.on", runner.NotifyOnConnect)
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("audit.database.url", "")
	v.SetDefault("audit.database.max_conns", 4)
	v.SetDefault("audit.max_in_memory", 1000)

	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.schedule", "0 2 * * *")
	v.SetDefault("serve.run_on_start", false)
	v.SetDefault("serve.shutdown_timeout", 30*time.Second)
}

// loadConfig reads switchbackup.yaml from path, or from the standard locations when path is empty.
// Environment variables prefixed SWITCHBACKUP_ override the file.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("switchbackup")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/switchbackup/")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SWITCHBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: reading config: %v", models.ErrFatalConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %v", models.ErrFatalConfig, err)
	}

	switch cfg.Notify.On {
	case runner.NotifyOnConnect, runner.NotifyOnAll:
	default:
		return nil, fmt.Errorf("%w: notify.on must be %q or %q, got %q",
			models.ErrFatalConfig, runner.NotifyOnConnect, runner.NotifyOnAll, cfg.Notify.On)
	}
	// Shell-login eligibility is a property of the vendor table, not a setting.
	cfg.SSH.FallbackVendors = harvest.FallbackVendors()

	return &cfg, nil
}
