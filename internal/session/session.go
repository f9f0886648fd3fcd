// Package session opens authenticated SSH sessions to a single endpoint and
// exposes an SFTP channel over them.
//
// Host keys are NOT verified: any key the server presents is accepted and
// its fingerprint logged. Flingr hosts are reached by activation code with
// no prior key exchange, so there is nothing to pin against. Treat this as
// a known weakness; changing it changes which hosts can be reached.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/logging"
	"github.com/postalsys/flingr/internal/metrics"
)

// DefaultConnectTimeout bounds one connect + handshake.
const DefaultConnectTimeout = 5 * time.Second

// Credentials authenticate a session.
type Credentials struct {
	User     string
	Password string
}

// Config configures session opening.
type Config struct {
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Session is one authenticated connection to one endpoint.
type Session struct {
	endpoint connection.Endpoint
	client   *ssh.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	closed bool
	lost   bool
}

// Open connects and authenticates to ep. Failure is an expected outcome
// used for fallback decisions: it is logged and nil is returned.
func Open(ctx context.Context, ep connection.Endpoint, creds Credentials, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.With(logging.KeyEndpoint, ep.Name, logging.KeyAddress, ep.HostPort())

	start := time.Now()
	client, err := dial(ctx, ep, creds, cfg.ConnectTimeout, logger)
	if err != nil {
		cfg.Metrics.RecordSessionFailure(ep.Name)
		logger.Debug("session open failed", logging.KeyError, err)
		return nil
	}
	cfg.Metrics.RecordSessionOpen(ep.Name, time.Since(start).Seconds())
	logger.Debug("session opened", logging.KeyDuration, time.Since(start))

	s := &Session{
		endpoint: ep,
		client:   client,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
	go func() {
		client.Wait()
		s.mu.Lock()
		s.lost = true
		s.mu.Unlock()
	}()
	return s
}

func dial(ctx context.Context, ep connection.Endpoint, creds Credentials, timeout time.Duration, logger *slog.Logger) (*ssh.Client, error) {
	if ep.Address == "" {
		return nil, fmt.Errorf("empty address")
	}
	if !connection.ValidPort(ep.Port) {
		return nil, fmt.Errorf("invalid port %d", ep.Port)
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := ep.HostPort()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// Bound the handshake by the same deadline and abort it on cancellation.
	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshCfg := &ssh.ClientConfig{
		User: creds.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: acceptAnyHostKey(logger),
		Timeout:         timeout,
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if !stop() {
		if err == nil {
			c.Close()
		}
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func acceptAnyHostKey(logger *slog.Logger) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		logger.Debug("accepting unverified host key",
			"key_type", key.Type(),
			logging.KeyFingerprint, ssh.FingerprintSHA256(key))
		return nil
	}
}

// Endpoint returns the endpoint this session is connected to.
func (s *Session) Endpoint() connection.Endpoint {
	return s.endpoint
}

// IsConnected reports whether the session is open and the transport alive.
func (s *Session) IsConnected() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.lost
}

// Close closes the session. It is safe to call more than once and on a nil
// session.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.metrics.RecordSessionClose()
	return s.client.Close()
}

// OpenChannel starts the SFTP subsystem on the session.
func (s *Session) OpenChannel() (*Channel, error) {
	if !s.IsConnected() {
		return nil, fmt.Errorf("session not connected")
	}
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}
	return &Channel{client: c}, nil
}

// Channel is an SFTP channel on a session.
type Channel struct {
	client *sftp.Client
}

// Create opens name for writing, truncating any existing file.
func (c *Channel) Create(name string) (io.WriteCloser, error) {
	f, err := c.client.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("create remote file %q: %w", name, err)
	}
	return f, nil
}

// Remove deletes name on the remote host.
func (c *Channel) Remove(name string) error {
	if err := c.client.Remove(name); err != nil {
		return fmt.Errorf("remove remote file %q: %w", name, err)
	}
	return nil
}

// Close closes the channel; the session stays open.
func (c *Channel) Close() error {
	return c.client.Close()
}
