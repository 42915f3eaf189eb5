package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bueste/switchbackup/pkg/models"
)

// SSHConfig contains SSH dialer configuration
type SSHConfig struct {
	ConnectTimeout        time.Duration       `mapstructure:"connect_timeout"`
	ConnectRetries        uint64              `mapstructure:"connect_retries"`
	RetryInitialInterval  time.Duration       `mapstructure:"retry_initial_interval"`
	ReceiveBufferSize     int                 `mapstructure:"receive_buffer_size"`
	TermType              string              `mapstructure:"term_type"`
	TermWidth             int                 `mapstructure:"term_width"`
	TermHeight            int                 `mapstructure:"term_height"`
	AllowLegacyAlgorithms bool                `mapstructure:"allow_legacy_algorithms"`
	KnownHostsPath        string              `mapstructure:"known_hosts_path"`
	InsecureSkipVerify    bool                `mapstructure:"insecure_skip_verify"`
	FallbackVendors       []models.VendorKind `mapstructure:"-"`
	LoginLineDelay        time.Duration       `mapstructure:"login_line_delay"`
}

// DefaultSSHConfig returns default SSH configuration
func DefaultSSHConfig() *SSHConfig {
	return &SSHConfig{
		ConnectTimeout:        30 * time.Second,
		ConnectRetries:        2,
		RetryInitialInterval:  2 * time.Second,
		ReceiveBufferSize:     8000,
		TermType:              "vt100",
		TermWidth:             80,
		TermHeight:            24,
		AllowLegacyAlgorithms: true,
		InsecureSkipVerify:    true,
		FallbackVendors:       []models.VendorKind{models.VendorCisco},
		LoginLineDelay:        200 * time.Millisecond,
	}
}

// SSHDialer opens interactive shells over SSH
type SSHDialer struct {
	config          *SSHConfig
	hostKeyCallback ssh.HostKeyCallback
	logger          *zap.Logger
}

// NewSSHDialer creates a new SSH dialer
func NewSSHDialer(logger *zap.Logger, config *SSHConfig) (*SSHDialer, error) {
	if config == nil {
		config = DefaultSSHConfig()
	}
	if config.ReceiveBufferSize <= 0 {
		config.ReceiveBufferSize = 8000
	}

	callback, err := buildHostKeyCallback(config, logger)
	if err != nil {
		return nil, err
	}

	return &SSHDialer{
		config:          config,
		hostKeyCallback: callback,
		logger:          logger,
	}, nil
}

func buildHostKeyCallback(config *SSHConfig, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if config.KnownHostsPath != "" {
		callback, err := knownhosts.New(config.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing known_hosts file: %v", models.ErrFatalConfig, err)
		}
		return callback, nil
	}
	if config.InsecureSkipVerify {
		logger.Warn("SSH host key verification is disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, fmt.Errorf("%w: no SSH host key policy: set ssh.known_hosts_path or ssh.insecure_skip_verify", models.ErrFatalConfig)
}

// Open connects to the device and starts an interactive shell.
// Password authentication is tried first. Vendors listed in FallbackVendors that reject it
// are redialed without authentication and logged in by typing the credentials into the shell.
func (d *SSHDialer) Open(ctx context.Context, profile models.DeviceProfile) (Session, error) {
	address := profile.Address()
	start := time.Now()

	d.logger.Info("connecting",
		zap.String("host", profile.Host),
		zap.String("user", profile.Username),
		zap.String("alias", profile.Alias),
	)

	client, err := d.dial(ctx, address, d.clientConfig(profile.Username, passwordAuth(profile.Password)))
	if err != nil {
		if !isAuthRejected(err) {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrConnect, address, err)
		}
		if !slices.Contains(d.config.FallbackVendors, profile.Vendor) {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrAuthRejected, address, err)
		}

		d.logger.Info("password authentication rejected, trying shell login", zap.String("alias", profile.Alias))
		return d.openWithShellLogin(ctx, address, profile)
	}

	sess, err := d.startShell(client)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrConnect, address, err)
	}

	d.logger.Info("connected",
		zap.String("alias", profile.Alias),
		zap.Duration("took", time.Since(start)),
	)
	return sess, nil
}

func (d *SSHDialer) openWithShellLogin(ctx context.Context, address string, profile models.DeviceProfile) (Session, error) {
	client, err := d.dial(ctx, address, d.clientConfig(profile.Username, nil))
	if err != nil {
		if isAuthRejected(err) {
			return nil, fmt.Errorf("%w: %s: shell login: %v", models.ErrAuthRejected, address, err)
		}
		return nil, fmt.Errorf("%w: %s: shell login: %v", models.ErrConnect, address, err)
	}

	sess, err := d.startShell(client)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrConnect, address, err)
	}

	for _, line := range []string{profile.Username, profile.Password} {
		if err := sess.Send(line + "\n"); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("%w: %s: typing credentials: %v", models.ErrConnect, address, err)
		}
		if d.config.LoginLineDelay > 0 {
			select {
			case <-time.After(d.config.LoginLineDelay):
			case <-ctx.Done():
				_ = sess.Close()
				return nil, fmt.Errorf("%w: %s: %v", models.ErrConnect, address, ctx.Err())
			}
		}
	}

	return sess, nil
}

func (d *SSHDialer) clientConfig(user string, auth []ssh.AuthMethod) *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         d.config.ConnectTimeout,
	}

	if d.config.AllowLegacyAlgorithms {
		supported := ssh.SupportedAlgorithms()
		insecure := ssh.InsecureAlgorithms()
		cfg.Config = ssh.Config{
			KeyExchanges: slices.Concat(supported.KeyExchanges, insecure.KeyExchanges),
			Ciphers:      slices.Concat(supported.Ciphers, insecure.Ciphers),
			MACs:         slices.Concat(supported.MACs, insecure.MACs),
		}
		cfg.HostKeyAlgorithms = slices.Concat(supported.HostKeys, insecure.HostKeys)
	}

	return cfg
}

func passwordAuth(password string) []ssh.AuthMethod {
	return []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	}
}

// dial connects with a timeout, retrying transient failures with exponential backoff.
// Authentication rejections are not retried.
func (d *SSHDialer) dial(ctx context.Context, address string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var client *ssh.Client

	operation := func() error {
		dialer := &net.Dialer{Timeout: d.config.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		// The handshake is bounded by the connect timeout; a silent peer must not block the run.
		if d.config.ConnectTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(d.config.ConnectTimeout))
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
		if err != nil {
			conn.Close()
			if isAuthRejected(err) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("failed to establish SSH connection: %w", err)
		}

		_ = conn.SetDeadline(time.Time{})
		client = ssh.NewClient(c, chans, reqs)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	if d.config.RetryInitialInterval > 0 {
		policy.InitialInterval = d.config.RetryInitialInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, d.config.ConnectRetries), ctx)

	err := backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		d.logger.Warn("connect attempt failed, retrying",
			zap.String("address", address),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func isAuthRejected(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func (d *SSHDialer) startShell(client *ssh.Client) (*sshSession, error) {
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(d.config.TermType, d.config.TermHeight, d.config.TermWidth, modes); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to request PTY: %w", err), closeAll(session, client))
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to get stdin: %w", err), closeAll(session, client))
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to get stdout: %w", err), closeAll(session, client))
	}

	if err := session.Shell(); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to start shell: %w", err), closeAll(session, client))
	}

	s := newShellSession(stdin, stdout, d.config.ReceiveBufferSize, session, client)
	return s, nil
}

func closeAll(closers ...io.Closer) error {
	var err error
	for _, c := range closers {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, io.EOF) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

// sshSession implements Session over an SSH shell channel
type sshSession struct {
	stdin   io.Writer
	closers []io.Closer

	chunks  chan []byte
	done    chan struct{}
	pending []byte

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
	closeErr  error
}

// newShellSession starts the reader that owns stdout. Chunks are queued in receipt order.
func newShellSession(stdin io.Writer, stdout io.Reader, bufSize int, closers ...io.Closer) *sshSession {
	s := &sshSession{
		stdin:   stdin,
		closers: closers,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go s.readLoop(stdout, bufSize)
	return s
}

func (s *sshSession) readLoop(stdout io.Reader, bufSize int) {
	defer close(s.chunks)

	buf := make([]byte, bufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}
	}
}

// Send writes raw text to the shell
func (s *sshSession) Send(text string) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	default:
	}
	if _, err := io.WriteString(s.stdin, text); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Receive returns the next chunk, splitting chunks longer than maxBytes
func (s *sshSession) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	if len(s.pending) == 0 {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return nil, fmt.Errorf("%w: %v", models.ErrTransportRead, s.streamErr())
			}
			s.pending = chunk
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrTransportRead, ctx.Err())
		}
	}

	n := len(s.pending)
	if maxBytes > 0 && n > maxBytes {
		n = maxBytes
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out, nil
}

func (s *sshSession) streamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil || errors.Is(s.readErr, io.EOF) {
		return errors.New("remote closed the shell")
	}
	return s.readErr
}

// Close releases the shell and the connection
func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = closeAll(s.closers...)
	})
	return s.closeErr
}
