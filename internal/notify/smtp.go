// Package notify alerts an operator by email when a device backup fails.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bueste/switchbackup/pkg/models"
)

// Alert describes one failed device pass
type Alert struct {
	Device  models.DeviceProfile
	Outcome models.Outcome
	Cause   error
	Time    time.Time
}

// Subject returns the mail subject for the alert
func (a Alert) Subject() string {
	if a.Outcome == models.OutcomeConnectFailed {
		return "Error connecting to switch " + a.Device.Alias
	}
	return "Error backing up switch " + a.Device.Alias
}

// Notifier delivers failure alerts
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// SMTPConfig contains mail transport settings that are not part of the relay file
type SMTPConfig struct {
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	LocalName          string        `mapstructure:"local_name"`
}

// DefaultSMTPConfig returns default SMTP configuration
func DefaultSMTPConfig() *SMTPConfig {
	return &SMTPConfig{
		DialTimeout: 30 * time.Second,
		SendTimeout: time.Minute,
		LocalName:   "localhost",
	}
}

// SMTPNotifier sends alerts through the configured mail relay
type SMTPNotifier struct {
	relay  *models.NotificationConfig
	config *SMTPConfig
	logger *zap.Logger
}

// NewSMTPNotifier creates a new SMTP notifier
func NewSMTPNotifier(relay *models.NotificationConfig, logger *zap.Logger, config *SMTPConfig) *SMTPNotifier {
	if config == nil {
		config = DefaultSMTPConfig()
	}
	return &SMTPNotifier{
		relay:  relay,
		config: config,
		logger: logger,
	}
}

// Notify composes and sends the alert
func (n *SMTPNotifier) Notify(ctx context.Context, alert Alert) error {
	recipients := n.recipients()
	msg := composeMessage(n.relay.FromAddr, recipients, alert)

	if err := n.send(ctx, recipients, msg); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrNotifyFailed, n.relay.Address(), err)
	}

	n.logger.Info("email has been sent",
		zap.String("to", n.relay.ToAddr),
		zap.String("alias", alert.Device.Alias),
	)
	return nil
}

func (n *SMTPNotifier) recipients() []string {
	var out []string
	for _, addr := range strings.Split(n.relay.ToAddr, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func composeMessage(from string, to []string, alert Alert) []byte {
	ts := alert.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", alert.Subject())
	fmt.Fprintf(&b, "Date: %s\r\n", ts.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Server: %s <br>\r\n", html.EscapeString(alert.Device.Host))
	fmt.Fprintf(&b, "Switch: %s <br>\r\n", html.EscapeString(alert.Device.Alias))
	fmt.Fprintf(&b, "Time:   %s <br>\r\n", ts.Format("02 January, 2006  15:04:05"))
	b.WriteString("Status: Failed <br>\r\n")
	if alert.Cause != nil {
		fmt.Fprintf(&b, "Reason: %s <br>\r\n", html.EscapeString(alert.Cause.Error()))
	}
	return b.Bytes()
}

func (n *SMTPNotifier) send(ctx context.Context, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName:         n.relay.SMTPHost,
		InsecureSkipVerify: n.config.InsecureSkipVerify,
	}
	netDialer := &net.Dialer{Timeout: n.config.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if n.relay.Encryption == models.EncryptionSSL {
		dialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", n.relay.Address())
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", n.relay.Address())
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	// The whole exchange is bounded so a stalled relay cannot hold up the run.
	timeout := n.config.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSMTPConfig().SendTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, n.relay.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("greeting: %w", err)
	}
	defer c.Close()

	if err := c.Hello(n.config.LocalName); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	if n.relay.Encryption != models.EncryptionSSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		} else {
			n.logger.Warn("mail relay does not offer STARTTLS", zap.String("relay", n.relay.Address()))
		}
	}

	if n.relay.AuthUser != "" {
		auth := smtp.PlainAuth("", n.relay.AuthUser, n.relay.AuthPassword, n.relay.SMTPHost)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(n.relay.FromAddr); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	return c.Quit()
}
