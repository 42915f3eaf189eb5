package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// VendorKind represents the command dialect and completion rule a device follows
type VendorKind string

const (
	// VendorCisco devices page "show running-config" and finish on the second prompt.
	VendorCisco VendorKind = "cisco"
	// VendorHuawei devices page "display current-configuration all" and finish on "return".
	VendorHuawei VendorKind = "huawei"
)

// Default management ports per vendor
const (
	DefaultCiscoPort  = 55556
	DefaultHuaweiPort = 22
)

// ParseVendorKind parses a vendor name from the device file
func ParseVendorKind(s string) (VendorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cisco", "ios":
		return VendorCisco, nil
	case "huawei", "vrp":
		return VendorHuawei, nil
	default:
		return "", fmt.Errorf("unknown vendor kind %q", s)
	}
}

// VendorKindFromAlias derives the vendor from an alias the way older device files encode it:
// any alias containing "cisco" is a Cisco device, everything else speaks the Huawei dialect.
func VendorKindFromAlias(alias string) VendorKind {
	if strings.Contains(strings.ToLower(alias), "cisco") {
		return VendorCisco
	}
	return VendorHuawei
}

// IsValid returns true for the known vendor kinds
func (v VendorKind) IsValid() bool {
	return v == VendorCisco || v == VendorHuawei
}

// DefaultPort returns the management port used when the device file does not specify one
func (v VendorKind) DefaultPort() int {
	if v == VendorCisco {
		return DefaultCiscoPort
	}
	return DefaultHuaweiPort
}

// DeviceProfile represents one configured device. Profiles are immutable once loaded.
type DeviceProfile struct {
	Host           string     `json:"host" mapstructure:"host"`
	Port           int        `json:"port,omitempty" mapstructure:"port"`
	Username       string     `json:"username" mapstructure:"username"`
	Password       string     `json:"-" mapstructure:"password"`
	EnablePassword string     `json:"-" mapstructure:"enable_password"`
	Alias          string     `json:"alias" mapstructure:"alias"`
	Vendor         VendorKind `json:"vendor" mapstructure:"vendor"`
	RetentionCount int        `json:"retention_count" mapstructure:"retention_count"`
}

// Address returns host:port, falling back to the vendor default port
func (d DeviceProfile) Address() string {
	port := d.Port
	if port == 0 {
		port = d.Vendor.DefaultPort()
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// Validate checks that the profile can be used for a backup pass
func (d DeviceProfile) Validate() error {
	ve := NewValidationErrors()
	if d.Host == "" {
		ve.Add("host", "host is required", d.Host)
	}
	if d.Username == "" {
		ve.Add("username", "username is required", d.Username)
	}
	if d.Alias == "" {
		ve.Add("alias", "alias is required", d.Alias)
	}
	if !d.Vendor.IsValid() {
		ve.Add("vendor", "unknown vendor kind", d.Vendor)
	}
	if d.RetentionCount < 1 {
		ve.Add("retention", "retention count must be a positive integer", d.RetentionCount)
	}
	if d.Port < 0 || d.Port > 65535 {
		ve.Add("port", "port out of range", d.Port)
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// String identifies the device in log lines without leaking credentials
func (d DeviceProfile) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Alias, d.Address(), d.Vendor)
}
