package resolver

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/metrics"
	"github.com/postalsys/flingr/internal/signer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// scriptedLookup returns results[i] for the i-th call and repeats the last one.
type scriptedLookup struct {
	mu      sync.Mutex
	calls   int
	results []lookupResult
	onCall  func(n int)
	started []time.Time
	ctxs    []context.Context
}

type lookupResult struct {
	conn connection.Connection
	err  error
}

func (s *scriptedLookup) Lookup(ctx context.Context, code string) (connection.Connection, error) {
	s.mu.Lock()
	s.calls++
	s.started = append(s.started, time.Now())
	s.ctxs = append(s.ctxs, ctx)
	n := s.calls
	idx := n - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return res.conn, res.err
}

func (s *scriptedLookup) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var validConn = connection.Connection{
	ActivationCode: "4OPRA9",
	WANAddress:     "123.456.78.9",
	WANPort:        5718,
}

func TestResolve_BlankCodeMakesNoRequest(t *testing.T) {
	lookup := &scriptedLookup{results: []lookupResult{{conn: validConn}}}
	r := New(Config{Lookup: lookup})

	for _, code := range []string{"", " ", "\t\n", "   "} {
		_, err := r.Resolve(context.Background(), code, time.Second, 10*time.Millisecond)
		if !errors.Is(err, ErrEmptyActivationCode) {
			t.Errorf("Resolve(%q) error = %v, want ErrEmptyActivationCode", code, err)
		}
	}
	if lookup.Calls() != 0 {
		t.Errorf("lookup called %d times, want 0", lookup.Calls())
	}
}

func TestResolve_ValidOnNthAttempt(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("attempt %d", n), func(t *testing.T) {
			results := make([]lookupResult, 0, n)
			for i := 1; i < n; i++ {
				if i%2 == 0 {
					results = append(results, lookupResult{conn: connection.Connection{ActivationCode: "4OPRA9"}})
				} else {
					results = append(results, lookupResult{err: errors.New("connection refused")})
				}
			}
			results = append(results, lookupResult{conn: validConn})
			lookup := &scriptedLookup{results: results}

			reg := prometheus.NewRegistry()
			m := metrics.NewMetricsWithRegistry(reg)
			r := New(Config{Lookup: lookup, Metrics: m})

			conn, err := r.Resolve(context.Background(), "4OPRA9", 5*time.Second, 5*time.Millisecond)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !conn.Equal(validConn) {
				t.Errorf("Resolve() = %+v, want %+v", conn, validConn)
			}
			if lookup.Calls() != n {
				t.Errorf("lookup called %d times, want %d", lookup.Calls(), n)
			}
			if got := testutil.ToFloat64(m.LookupRequests.WithLabelValues(metrics.LookupValid)); got != 1 {
				t.Errorf("valid lookups = %v, want 1", got)
			}
		})
	}
}

func TestResolve_Timeout(t *testing.T) {
	lookup := &scriptedLookup{results: []lookupResult{{err: errors.New("service unavailable")}}}
	r := New(Config{Lookup: lookup})

	timeout := 100 * time.Millisecond
	start := time.Now()
	_, err := r.Resolve(context.Background(), "4OPRA9", timeout, 10*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Resolve() error = %v, want ErrTimeout", err)
	}
	if elapsed < timeout {
		t.Errorf("Resolve() returned after %v, before the %v timeout", elapsed, timeout)
	}

	calls := lookup.Calls()
	if calls < 2 {
		t.Errorf("lookup called %d times, want several polls", calls)
	}

	time.Sleep(50 * time.Millisecond)
	if lookup.Calls() != calls {
		t.Errorf("lookup called after timeout: %d -> %d", calls, lookup.Calls())
	}
}

func TestResolve_NoRequestAfterDeadline(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		interval time.Duration
	}{
		{"interval straddles deadline", 100 * time.Millisecond, 80 * time.Millisecond},
		{"interval longer than timeout", 50 * time.Millisecond, 70 * time.Millisecond},
		{"uneven split", 120 * time.Millisecond, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &scriptedLookup{results: []lookupResult{{err: errors.New("service unavailable")}}}
			r := New(Config{Lookup: lookup})

			start := time.Now()
			_, err := r.Resolve(context.Background(), "4OPRA9", tt.timeout, tt.interval)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("Resolve() error = %v, want ErrTimeout", err)
			}

			lookup.mu.Lock()
			defer lookup.mu.Unlock()
			for i, at := range lookup.started {
				if offset := at.Sub(start); offset > tt.timeout {
					t.Errorf("request %d sent at %v, after the %v deadline", i+1, offset, tt.timeout)
				}
			}
		})
	}
}

func TestResolve_ZeroTimeoutSingleAttempt(t *testing.T) {
	lookup := &scriptedLookup{results: []lookupResult{{err: errors.New("unavailable")}}}
	lookup.onCall = func(int) { time.Sleep(time.Millisecond) }
	r := New(Config{Lookup: lookup})

	_, err := r.Resolve(context.Background(), "4OPRA9", 0, time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Resolve() error = %v, want ErrTimeout", err)
	}
	if lookup.Calls() != 1 {
		t.Errorf("lookup called %d times, want 1", lookup.Calls())
	}
}

func TestResolve_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lookup := &scriptedLookup{results: []lookupResult{{err: errors.New("unavailable")}}}
	lookup.onCall = func(n int) {
		if n == 1 {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}
	}
	r := New(Config{Lookup: lookup})

	start := time.Now()
	_, err := r.Resolve(ctx, "4OPRA9", time.Minute, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, want prompt return", elapsed)
	}
	if lookup.Calls() != 1 {
		t.Errorf("lookup called %d times, want 1", lookup.Calls())
	}
}

func TestResolve_InFlightResultDiscardedAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	lookup := &scriptedLookup{results: []lookupResult{{conn: validConn}}}
	lookup.onCall = func(int) { cancel() }
	r := New(Config{Lookup: lookup})

	conn, err := r.Resolve(ctx, "4OPRA9", time.Second, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}
	if conn.IsValid() {
		t.Errorf("Resolve() returned %+v after cancellation", conn)
	}
}

func TestResolve_CancelDoesNotAbortDispatchedRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lookup := &scriptedLookup{results: []lookupResult{{err: errors.New("unavailable")}}}
	lookup.onCall = func(int) { cancel() }
	r := New(Config{Lookup: lookup})

	_, err := r.Resolve(ctx, "4OPRA9", time.Second, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}

	lookup.mu.Lock()
	defer lookup.mu.Unlock()
	if len(lookup.ctxs) != 1 {
		t.Fatalf("lookup called %d times, want 1", len(lookup.ctxs))
	}
	if err := lookup.ctxs[0].Err(); err != nil {
		t.Errorf("request context error = %v after caller cancel, want nil", err)
	}
}

func TestResolve_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lookup := &scriptedLookup{results: []lookupResult{{conn: validConn}}}
	_, err := New(Config{Lookup: lookup}).Resolve(ctx, "4OPRA9", time.Second, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
	if lookup.Calls() != 0 {
		t.Errorf("lookup called %d times, want 0", lookup.Calls())
	}
}

func TestResolve_SigningFailureIsFatal(t *testing.T) {
	lookup := &scriptedLookup{results: []lookupResult{{err: fmt.Errorf("%w: hash: boom", signer.ErrSigning)}}}
	r := New(Config{Lookup: lookup})

	_, err := r.Resolve(context.Background(), "4OPRA9", time.Second, time.Millisecond)
	if !errors.Is(err, signer.ErrSigning) {
		t.Fatalf("Resolve() error = %v, want ErrSigning", err)
	}
	if lookup.Calls() != 1 {
		t.Errorf("lookup called %d times, want 1 (no retry)", lookup.Calls())
	}
}

func TestResolve_EndToEndWithTransientFailures(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch requests.Add(1) {
		case 1:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		case 2:
			io.WriteString(w, `not json`)
		case 3:
			io.WriteString(w, `{"Item": {"id": {"S": "4OPRA9"}}}`)
		default:
			io.WriteString(w, sampleLookupResponse)
		}
	}))
	defer srv.Close()

	r := New(Config{Lookup: newTestClient(t, srv.URL)})
	conn, err := r.Resolve(context.Background(), "4OPRA9", 5*time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if requests.Load() != 4 {
		t.Errorf("server saw %d requests, want 4", requests.Load())
	}
	if conn.LocalAddress != "192.168.1.23" || conn.LocalPort != 22 {
		t.Errorf("local endpoint = %s:%d, want 192.168.1.23:22", conn.LocalAddress, conn.LocalPort)
	}
}

type brokenHash struct{ n int }

func (h *brokenHash) Write(p []byte) (int, error) { return 0, errors.New("no provider") }
func (h *brokenHash) Sum(b []byte) []byte         { return b }
func (h *brokenHash) Reset()                      {}
func (h *brokenHash) Size() int                   { return 32 }
func (h *brokenHash) BlockSize() int              { return 64 }

func TestResolve_EndToEndSigningFailure(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Path:    "/FlingrRegistration",
		Signer: signer.New(signer.Config{
			SecretKey: "secret",
			NewHash:   func() hash.Hash { return &brokenHash{} },
		}),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = New(Config{Lookup: c}).Resolve(context.Background(), "4OPRA9", time.Second, time.Millisecond)
	if !errors.Is(err, signer.ErrSigning) {
		t.Errorf("Resolve() error = %v, want ErrSigning", err)
	}
	if requests.Load() != 0 {
		t.Errorf("server saw %d requests, want 0", requests.Load())
	}
}
