// Package inventory loads the device list and the mail relay settings.
package inventory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bueste/switchbackup/pkg/models"
)

// deviceFields is the column count of a device line:
// host user password alias type enable-password retention
const deviceFields = 7

// Loader reads device and notification configuration
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadDevices reads the device list from path. Any problem is ErrFatalConfig.
func (l *Loader) LoadDevices(path string) ([]models.DeviceProfile, error) {
	l.logger.Info("reading config file", zap.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", models.ErrFatalConfig, path, err)
	}
	defer f.Close()

	devices, err := l.ParseDevices(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return devices, nil
}

// ParseDevices parses one device per line. Blank lines and lines starting with '#' are skipped.
// The vendor column accepts a vendor name; an unknown name falls back to the alias convention.
func (l *Loader) ParseDevices(r io.Reader) ([]models.DeviceProfile, error) {
	var devices []models.DeviceProfile
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != deviceFields {
			return nil, fmt.Errorf("%w: line %d: expected %d fields, got %d", models.ErrFatalConfig, lineNo, deviceFields, len(fields))
		}

		retention, err := strconv.Atoi(fields[6])
		if err != nil || retention < 1 {
			return nil, fmt.Errorf("%w: line %d: retention %q must be a positive integer", models.ErrFatalConfig, lineNo, fields[6])
		}

		alias := fields[3]
		vendor, err := models.ParseVendorKind(fields[4])
		if err != nil {
			vendor = models.VendorKindFromAlias(alias)
			l.logger.Warn("unknown device type, derived vendor from alias",
				zap.Int("line", lineNo),
				zap.String("type", fields[4]),
				zap.String("alias", alias),
				zap.String("vendor", string(vendor)),
			)
		}

		device := models.DeviceProfile{
			Host:           fields[0],
			Username:       fields[1],
			Password:       fields[2],
			Alias:          alias,
			Vendor:         vendor,
			EnablePassword: fields[5],
			RetentionCount: retention,
		}
		if err := device.Validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrFatalConfig, lineNo, err)
		}
		if prev, ok := seen[alias]; ok {
			return nil, fmt.Errorf("%w: line %d: alias %q already used on line %d", models.ErrFatalConfig, lineNo, alias, prev)
		}
		seen[alias] = lineNo

		devices = append(devices, device)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading device list: %v", models.ErrFatalConfig, err)
	}

	l.logger.Info("loaded devices", zap.Int("count", len(devices)))
	return devices, nil
}
