package transfer

import (
	"context"
	"log/slog"
	"time"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/metrics"
	"github.com/postalsys/flingr/internal/session"
)

// SSHDialer opens SSH+SFTP sessions through the session package.
type SSHDialer struct {
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Open implements Dialer.
func (d *SSHDialer) Open(ctx context.Context, ep connection.Endpoint, creds session.Credentials) Session {
	s := session.Open(ctx, ep, creds, session.Config{
		ConnectTimeout: d.ConnectTimeout,
		Logger:         d.Logger,
		Metrics:        d.Metrics,
	})
	if s == nil {
		// A nil *session.Session must not become a non-nil Session.
		return nil
	}
	return sshSession{s}
}

type sshSession struct {
	*session.Session
}

func (s sshSession) OpenChannel() (Channel, error) {
	ch, err := s.Session.OpenChannel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}
