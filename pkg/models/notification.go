package models

import (
	"fmt"
	"net"
	"strconv"
)

// Encryption modes of the mail relay connection
const (
	EncryptionPlain = "plain" // connect, then upgrade with STARTTLS
	EncryptionSSL   = "ssl"   // implicit TLS from the first byte
)

// NotificationConfig holds the mail relay settings for failure alerts
type NotificationConfig struct {
	FromAddr     string `mapstructure:"from_addr"`
	ToAddr       string `mapstructure:"to_addr"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	AuthUser     string `mapstructure:"auth_user"`
	AuthPassword string `mapstructure:"auth_password"`
	Encryption   string `mapstructure:"encryption"`
}

// Address returns host:port of the mail relay
func (c NotificationConfig) Address() string {
	return net.JoinHostPort(c.SMTPHost, strconv.Itoa(c.SMTPPort))
}

// Validate checks the settings needed to send mail
func (c NotificationConfig) Validate() error {
	switch {
	case c.FromAddr == "":
		return fmt.Errorf("From_Addr is required")
	case c.ToAddr == "":
		return fmt.Errorf("To_Addr is required")
	case c.SMTPHost == "":
		return fmt.Errorf("SMTP_Host is required")
	case c.SMTPPort <= 0 || c.SMTPPort > 65535:
		return fmt.Errorf("SMTP_Port %d out of range", c.SMTPPort)
	case c.Encryption != EncryptionPlain && c.Encryption != EncryptionSSL:
		return fmt.Errorf("Encryption must be %q or %q, got %q", EncryptionPlain, EncryptionSSL, c.Encryption)
	}
	return nil
}
