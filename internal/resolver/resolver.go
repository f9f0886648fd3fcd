// Package resolver turns an activation code into connection parameters by
// polling the Flingr lookup service.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/logging"
	"github.com/postalsys/flingr/internal/metrics"
	"github.com/postalsys/flingr/internal/signer"
)

const (
	// DefaultTimeout bounds total polling time.
	DefaultTimeout = 10 * time.Second

	// DefaultPollInterval is the wait between unsuccessful lookups.
	DefaultPollInterval = 500 * time.Millisecond
)

var (
	// ErrEmptyActivationCode is returned for blank codes before any request.
	ErrEmptyActivationCode = errors.New("activation code is empty")

	// ErrTimeout is returned when no valid record arrived in time.
	ErrTimeout = errors.New("timed out resolving activation code")
)

// Lookuper performs a single lookup. *Client implements it.
type Lookuper interface {
	Lookup(ctx context.Context, code string) (connection.Connection, error)
}

// Config configures a Resolver.
type Config struct {
	Lookup  Lookuper
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Resolver polls the lookup service until it returns a valid record.
// Each Resolve call is independent; a Resolver may be shared.
type Resolver struct {
	lookup  Lookuper
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Resolver{
		lookup:  cfg.Lookup,
		logger:  logger.With(logging.KeyComponent, "resolver"),
		metrics: cfg.Metrics,
	}
}

// Resolve polls until a valid Connection arrives, timeout elapses or ctx is
// done. Transient failures are retried every pollInterval; a signing
// failure is returned immediately. ctx is checked between requests and
// during the wait, never mid-request.
func (r *Resolver) Resolve(ctx context.Context, code string, timeout, pollInterval time.Duration) (connection.Connection, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return connection.Connection{}, ErrEmptyActivationCode
	}

	logger := r.logger.With(logging.KeyActivationCode, code)
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			r.metrics.RecordResolve("cancelled", time.Since(start).Seconds())
			return connection.Connection{}, err
		}

		// A dispatched request runs to completion, bounded by the HTTP
		// client timeout; cancellation is observed at the next poll point.
		reqStart := time.Now()
		conn, err := r.lookup.Lookup(context.WithoutCancel(ctx), code)
		latency := time.Since(reqStart).Seconds()

		// A result that arrives after cancellation is discarded.
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.metrics.RecordResolve("cancelled", time.Since(start).Seconds())
			return connection.Connection{}, ctxErr
		}

		switch {
		case errors.Is(err, signer.ErrSigning):
			r.metrics.RecordLookup(metrics.LookupSignError, latency)
			r.metrics.RecordResolve("sign_error", time.Since(start).Seconds())
			logger.Error("cannot sign lookup request", logging.KeyError, err)
			return connection.Connection{}, err
		case err != nil:
			r.metrics.RecordLookup(metrics.LookupError, latency)
			logger.Debug("lookup failed", logging.KeyAttempt, attempt, logging.KeyError, err)
		case !conn.IsValid():
			r.metrics.RecordLookup(metrics.LookupInvalid, latency)
			logger.Debug("lookup returned incomplete record", logging.KeyAttempt, attempt)
		default:
			r.metrics.RecordLookup(metrics.LookupValid, latency)
			r.metrics.RecordResolve("resolved", time.Since(start).Seconds())
			logger.Info("activation code resolved",
				logging.KeyAttempt, attempt,
				logging.KeyDuration, time.Since(start))
			return conn, nil
		}

		if err := r.expired(logger, start, timeout, attempt); err != nil {
			return connection.Connection{}, err
		}
		if err := sleep(ctx, pollInterval); err != nil {
			r.metrics.RecordResolve("cancelled", time.Since(start).Seconds())
			return connection.Connection{}, err
		}
		// The wait may have crossed the deadline.
		if err := r.expired(logger, start, timeout, attempt); err != nil {
			return connection.Connection{}, err
		}
	}
}

// expired returns a timeout error once more than timeout has passed since
// start. No request may be sent after it fires.
func (r *Resolver) expired(logger *slog.Logger, start time.Time, timeout time.Duration, attempts int) error {
	elapsed := time.Since(start)
	if elapsed <= timeout {
		return nil
	}
	r.metrics.RecordResolve("timeout", elapsed.Seconds())
	logger.Warn("activation code not resolved",
		logging.KeyAttempt, attempts,
		logging.KeyDuration, elapsed)
	return fmt.Errorf("%w after %d attempts", ErrTimeout, attempts)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
