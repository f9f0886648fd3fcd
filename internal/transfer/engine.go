// Package transfer uploads one file to a remote host, trying the local
// endpoint before the WAN endpoint.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/logging"
	"github.com/postalsys/flingr/internal/metrics"
	"github.com/postalsys/flingr/internal/recovery"
	"github.com/postalsys/flingr/internal/session"
)

// DefaultChunkSize is the write unit between cancellation checks and
// progress reports.
const DefaultChunkSize = 32 * 1024

var (
	errNoEndpoints = errors.New("connection has no usable endpoint")
	errUnreachable = errors.New("endpoint unreachable")
)

// ProgressFunc receives the integer percentage written after every chunk.
// Within one attempt the values never decrease.
type ProgressFunc func(percent int)

// Channel is an open file-transfer channel on a session.
type Channel interface {
	Create(name string) (io.WriteCloser, error)
	Remove(name string) error
	Close() error
}

// Session is one connected endpoint.
type Session interface {
	IsConnected() bool
	OpenChannel() (Channel, error)
	Close() error
}

// Dialer opens sessions. Open returns nil when the endpoint cannot be
// reached or authentication fails.
type Dialer interface {
	Open(ctx context.Context, ep connection.Endpoint, creds session.Credentials) Session
}

// Config holds Engine settings.
type Config struct {
	// Dialer defaults to an SSHDialer with DefaultConnectTimeout.
	Dialer Dialer

	ChunkSize int
	RateLimit int64 // bytes per second, 0 for unlimited

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Engine sends files. It keeps no state between Send calls and is safe for
// concurrent use.
type Engine struct {
	dialer    Dialer
	chunkSize int
	rateLimit int64
	logger    *slog.Logger
	metrics   *metrics.Metrics

	active atomic.Int32
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &SSHDialer{Logger: cfg.Logger, Metrics: cfg.Metrics}
	}
	return &Engine{
		dialer:    cfg.Dialer,
		chunkSize: cfg.ChunkSize,
		rateLimit: cfg.RateLimit,
		logger:    cfg.Logger.With(logging.KeyComponent, "transfer"),
		metrics:   cfg.Metrics,
	}
}

// Send uploads src to name on the host described by conn. Endpoints are
// tried in order until one succeeds or ctx is cancelled. src is rewound
// before every attempt. size is the expected byte count; when it is not
// positive no progress is reported. Send blocks until it has an outcome.
func (e *Engine) Send(ctx context.Context, conn connection.Connection, src io.ReadSeeker, size int64, name string, progress ProgressFunc) Outcome {
	id := uuid.NewString()
	logger := e.logger.With(logging.KeyTransferID, id, logging.KeyActivationCode, conn.ActivationCode)
	start := time.Now()

	e.active.Add(1)
	defer e.active.Add(-1)
	e.metrics.RecordTransferStart()
	logger.Info("transfer started", "name", name, logging.KeyBytes, size)

	out := e.send(ctx, logger, conn, src, size, name, progress)
	out.TransferID = id
	out.Duration = time.Since(start)

	e.metrics.RecordTransferEnd(out.Status.String(), string(out.Reason), out.Duration.Seconds())
	switch out.Status {
	case Failed:
		logger.Warn("transfer failed",
			logging.KeyReason, out.Reason,
			logging.KeyError, out.Err,
			logging.KeyDuration, out.Duration)
	default:
		logger.Info("transfer finished",
			logging.KeyStatus, out.Status,
			logging.KeyEndpoint, out.Endpoint,
			logging.KeyBytes, out.Bytes,
			logging.KeyDuration, out.Duration)
	}
	return out
}

// Active returns the number of Send calls in progress.
func (e *Engine) Active() int {
	return int(e.active.Load())
}

// SendAsync runs Send on its own goroutine and delivers the outcome on the
// returned channel. A panic inside Send is reported as a failed transfer.
func (e *Engine) SendAsync(ctx context.Context, conn connection.Connection, src io.ReadSeeker, size int64, name string, progress ProgressFunc) <-chan Outcome {
	result := make(chan Outcome, 1)
	go func() {
		defer recovery.RecoverWithCallback(e.logger, "transfer", func(err *recovery.PanicError) {
			result <- Outcome{Status: Failed, Reason: ReasonTransfer, Err: err}
		})
		result <- e.Send(ctx, conn, src, size, name, progress)
	}()
	return result
}

func (e *Engine) send(ctx context.Context, logger *slog.Logger, conn connection.Connection, src io.ReadSeeker, size int64, name string, progress ProgressFunc) Outcome {
	endpoints := conn.Endpoints()
	if len(endpoints) == 0 {
		return Outcome{Status: Failed, Reason: ReasonConnection, Err: errNoEndpoints}
	}

	creds := session.Credentials{User: conn.UserName, Password: conn.UserPassword}
	furthest := stageConnect
	var lastErr error

	for i, ep := range endpoints {
		if ctx.Err() != nil {
			return Outcome{Status: Cancelled}
		}

		attemptLogger := logger.With(logging.KeyEndpoint, ep.Name, logging.KeyAttempt, i+1)
		res := e.attempt(ctx, attemptLogger, ep, creds, src, size, name, progress)
		switch {
		case res.cancelled:
			return Outcome{Status: Cancelled, Endpoint: ep.Name, Bytes: res.written}
		case res.stage == stageDone:
			return Outcome{Status: Succeeded, Endpoint: ep.Name, Bytes: res.written}
		}

		attemptLogger.Debug("attempt failed",
			logging.KeyReason, res.stage.reason(),
			logging.KeyError, res.err)
		if res.stage > furthest {
			furthest = res.stage
		}
		lastErr = res.err
	}

	return Outcome{Status: Failed, Reason: furthest.reason(), Err: lastErr}
}

type attemptResult struct {
	stage     stage // furthest stage reached; stageDone on success
	written   int64
	cancelled bool
	err       error
}

func (e *Engine) attempt(ctx context.Context, logger *slog.Logger, ep connection.Endpoint, creds session.Credentials, src io.ReadSeeker, size int64, name string, progress ProgressFunc) attemptResult {
	// Rejected credentials also yield nil and count as a connection failure.
	sess := e.dialer.Open(ctx, ep, creds)
	if sess == nil {
		if ctx.Err() != nil {
			return attemptResult{cancelled: true}
		}
		return attemptResult{stage: stageConnect, err: errUnreachable}
	}
	defer sess.Close()

	if !sess.IsConnected() {
		return attemptResult{stage: stageConnect, err: errUnreachable}
	}

	ch, err := sess.OpenChannel()
	if err != nil {
		return attemptResult{stage: stageChannel, err: fmt.Errorf("open channel: %w", err)}
	}
	defer ch.Close()

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return attemptResult{stage: stageTransfer, err: fmt.Errorf("rewind source: %w", err)}
	}

	w, err := ch.Create(name)
	if err != nil {
		return attemptResult{stage: stageChannel, err: fmt.Errorf("create remote file: %w", err)}
	}

	written, err := e.copy(ctx, w, src, size, progress, ep.Name)
	if err != nil {
		w.Close()
		if ctx.Err() != nil {
			if rmErr := ch.Remove(name); rmErr != nil {
				logger.Debug("remove partial file failed", logging.KeyError, rmErr)
			}
			return attemptResult{cancelled: true, written: written}
		}
		return attemptResult{stage: stageTransfer, written: written, err: err}
	}

	if err := w.Close(); err != nil {
		return attemptResult{stage: stageTransfer, written: written, err: fmt.Errorf("close remote file: %w", err)}
	}
	return attemptResult{stage: stageDone, written: written}
}

// copy streams src into w in chunkSize pieces. ctx is checked before every
// chunk. The returned error is ctx.Err() when cancellation stopped the copy.
func (e *Engine) copy(ctx context.Context, w io.Writer, src io.Reader, size int64, progress ProgressFunc, endpoint string) (int64, error) {
	r := NewRateLimitedReader(ctx, src, e.rateLimit)
	buf := make([]byte, e.chunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			e.metrics.RecordBytesUploaded(endpoint, wn)
			if werr != nil {
				return written, fmt.Errorf("write: %w", werr)
			}
			if wn != n {
				return written, fmt.Errorf("write: %w", io.ErrShortWrite)
			}
			if pct, ok := percent(written, size); ok && progress != nil {
				progress(pct)
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return written, nil
		case ctx.Err() != nil:
			return written, ctx.Err()
		default:
			return written, fmt.Errorf("read source: %w", rerr)
		}
	}
}

// percent returns written*100/size, truncated and capped at 100. ok is false
// when size is unknown.
func percent(written, size int64) (int, bool) {
	if size <= 0 {
		return 0, false
	}
	p := written * 100 / size
	if p > 100 {
		p = 100
	}
	return int(p), true
}
