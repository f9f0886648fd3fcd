package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/postalsys/flingr/internal/connection"
	"github.com/postalsys/flingr/internal/logging"
	"github.com/postalsys/flingr/internal/signer"
)

const (
	// DefaultRequestTimeout bounds one HTTP round trip to the lookup service.
	DefaultRequestTimeout = 5 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 64 * 1024

	queryKey = "Key"
)

// ErrRegistrationRejected is returned by Register when the service answers
// without an id.
var ErrRegistrationRejected = errors.New("registration returned no id")

// StatusError reports a non-200 response from the lookup service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "lookup service returned status " + strconv.Itoa(e.Code)
}

// ClientConfig configures a lookup service client.
type ClientConfig struct {
	// BaseURL is the service root including any stage prefix,
	// e.g. https://abc.execute-api.us-east-1.amazonaws.com/test
	BaseURL   string
	Path      string
	TableName string

	Signer     *signer.Signer
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Now returns the signing time. Defaults to time.Now.
	Now func() time.Time
}

// Client issues signed requests to the lookup service.
type Client struct {
	cfg      ClientConfig
	endpoint *url.URL
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient creates a client. It fails only if the base URL does not parse.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid lookup url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid lookup url %q: scheme and host are required", u.String())
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		cfg:      cfg,
		endpoint: u,
		http:     httpClient,
		logger:   logger,
		now:      now,
	}, nil
}

// Lookup performs one signed GET for code and parses the response. The
// returned Connection may be invalid; callers check IsValid.
func (c *Client) Lookup(ctx context.Context, code string) (connection.Connection, error) {
	query := signer.CanonicalQuery(url.Values{queryKey: {code}})

	body, err := c.do(ctx, http.MethodGet, query, nil)
	if err != nil {
		return connection.Connection{}, err
	}
	return ParseLookupResponse(body)
}

// Registration carries the addresses a host publishes.
type Registration struct {
	WANAddress   string
	WANPort      int
	LocalAddress string
	LocalPort    int
}

// Register publishes a host's addresses and returns the activation code the
// service assigned.
func (c *Client) Register(ctx context.Context, reg Registration) (string, error) {
	payload, err := json.Marshal(registerBody{
		Item: map[string]stringAttr{
			fieldWANAddr:   wrap(reg.WANAddress),
			fieldWANPort:   wrap(strconv.Itoa(reg.WANPort)),
			fieldLocalAddr: wrap(reg.LocalAddress),
			fieldLocalPort: wrap(strconv.Itoa(reg.LocalPort)),
		},
		TableName: c.cfg.TableName,
	})
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}

	body, err := c.do(ctx, http.MethodPut, "", payload)
	if err != nil {
		return "", err
	}

	conn, err := ParseLookupResponse(body)
	if err != nil {
		return "", err
	}
	if conn.ActivationCode == "" {
		return "", ErrRegistrationRejected
	}
	return conn.ActivationCode, nil
}

// Unregister withdraws an activation code.
func (c *Client) Unregister(ctx context.Context, code string) error {
	payload, err := json.Marshal(unregisterBody{
		Key:       map[string]stringAttr{fieldID: wrap(code)},
		TableName: c.cfg.TableName,
	})
	if err != nil {
		return fmt.Errorf("encode unregister: %w", err)
	}

	_, err = c.do(ctx, http.MethodPut, "", payload)
	return err
}

func (c *Client) do(ctx context.Context, method, query string, payload []byte) ([]byte, error) {
	sig, err := c.cfg.Signer.Sign(signer.Request{
		Method:  method,
		Host:    c.endpoint.Host,
		Path:    c.endpoint.EscapedPath(),
		Query:   query,
		Payload: payload,
	}, c.now())
	if err != nil {
		return nil, err
	}

	u := *c.endpoint
	u.RawQuery = query

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	sig.Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("lookup service rejected request",
			"method", method,
			"status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return data, nil
}
