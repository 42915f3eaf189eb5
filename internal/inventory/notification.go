package inventory

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bueste/switchbackup/pkg/models"
)

// LoadNotificationConfig reads the "Key = Value" mail relay file.
// Keys are matched case-insensitively; Encryption defaults to plain.
func (l *Loader) LoadNotificationConfig(path string) (*models.NotificationConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	v.SetDefault("encryption", models.EncryptionPlain)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg models.NotificationConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Encryption = strings.ToLower(strings.TrimSpace(cfg.Encryption))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Debug("loaded notification config",
		zap.String("relay", cfg.Address()),
		zap.String("encryption", cfg.Encryption),
	)
	return &cfg, nil
}
