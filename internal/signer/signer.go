// Package signer builds HMAC-SHA256 chain signatures for requests to the
// Flingr lookup service.
//
// The scheme follows the well-known four-step layout: canonical request,
// string to sign, derived signing key, signature. It is implemented here
// directly because the service has a fixed host, region and service name
// and only ever sees a handful of request shapes.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	// Algorithm identifies the signing scheme in the string to sign and the
	// Authorization header.
	Algorithm = "AWS4-HMAC-SHA256"

	// ContentType is sent with every request and covered by the signature.
	ContentType = "application/json"

	// SignedHeaders lists the canonical header names, sorted and lower-cased.
	SignedHeaders = "content-type;host;x-amz-date"

	// TimeFormat is the request timestamp layout (ISO 8601 basic, UTC).
	TimeFormat = "20060102T150405Z"

	// DateFormat is the date stamp layout used in the credential scope.
	DateFormat = "20060102"

	keyPrefix     = "AWS4"
	scopeTerminal = "aws4_request"
)

// Header names set by Apply.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderDate          = "X-Amz-Date"
	HeaderContentSHA256 = "x-amz-content-sha256"
)

// ErrSigning is returned when the hash or HMAC primitive fails. It is a
// local, unrecoverable condition and must not be retried.
var ErrSigning = errors.New("request signing failed")

// Config holds the signing credentials and scope.
type Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string

	// NewHash constructs the digest used for hashing and HMAC.
	// Defaults to sha256.New.
	NewHash func() hash.Hash
}

// Request describes the parts of an HTTP request covered by the signature.
type Request struct {
	Method  string
	Host    string
	Path    string
	Query   string // already canonical, see CanonicalQuery
	Payload []byte
}

// Context is the per-request derivation state. It is recomputed for every
// request and never stored.
type Context struct {
	Timestamp        string
	DateStamp        string
	CanonicalRequest string
	CredentialScope  string
	StringToSign     string
	SigningKey       []byte
}

// Signature is the output of Sign.
type Signature struct {
	Authorization string
	Timestamp     string
	PayloadHash   string
	Context       Context
}

// Signer signs requests. It has no mutable state and is safe for
// concurrent use.
type Signer struct {
	cfg     Config
	newHash func() hash.Hash
}

// New creates a signer.
func New(cfg Config) *Signer {
	h := cfg.NewHash
	if h == nil {
		h = sha256.New
	}
	return &Signer{cfg: cfg, newHash: h}
}

// Sign computes the Authorization value for req at time now.
func (s *Signer) Sign(req Request, now time.Time) (*Signature, error) {
	now = now.UTC()
	sc := Context{
		Timestamp: now.Format(TimeFormat),
		DateStamp: now.Format(DateFormat),
	}
	sc.CredentialScope = strings.Join([]string{sc.DateStamp, s.cfg.Region, s.cfg.Service, scopeTerminal}, "/")

	payloadHash, err := s.hashHex(req.Payload)
	if err != nil {
		return nil, err
	}

	path := req.Path
	if path == "" {
		path = "/"
	}

	canonicalHeaders := "content-type:" + ContentType + "\n" +
		"host:" + strings.TrimSpace(req.Host) + "\n" +
		"x-amz-date:" + sc.Timestamp + "\n"

	sc.CanonicalRequest = strings.Join([]string{
		strings.ToUpper(req.Method),
		path,
		req.Query,
		canonicalHeaders,
		SignedHeaders,
		payloadHash,
	}, "\n")

	hashedRequest, err := s.hashHex([]byte(sc.CanonicalRequest))
	if err != nil {
		return nil, err
	}

	sc.StringToSign = strings.Join([]string{Algorithm, sc.Timestamp, sc.CredentialScope, hashedRequest}, "\n")

	sc.SigningKey, err = s.deriveKey(sc.DateStamp)
	if err != nil {
		return nil, err
	}

	sum, err := s.hmac(sc.SigningKey, sc.StringToSign)
	if err != nil {
		return nil, err
	}

	auth := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, s.cfg.AccessKey, sc.CredentialScope, SignedHeaders, hex.EncodeToString(sum))

	return &Signature{
		Authorization: auth,
		Timestamp:     sc.Timestamp,
		PayloadHash:   payloadHash,
		Context:       sc,
	}, nil
}

// Apply sets the signed headers on r.
func (sig *Signature) Apply(r *http.Request) {
	r.Header.Set(HeaderContentType, ContentType)
	r.Header.Set(HeaderDate, sig.Timestamp)
	r.Header.Set(HeaderAuthorization, sig.Authorization)
	// Non-canonical casing is what the service expects.
	r.Header[HeaderContentSHA256] = []string{sig.PayloadHash}
}

// deriveKey chains the secret through date, region, service and the
// terminal string.
func (s *Signer) deriveKey(dateStamp string) ([]byte, error) {
	key := []byte(keyPrefix + s.cfg.SecretKey)
	for _, part := range []string{dateStamp, s.cfg.Region, s.cfg.Service, scopeTerminal} {
		next, err := s.hmac(key, part)
		if err != nil {
			return nil, err
		}
		key = next
	}
	return key, nil
}

func (s *Signer) hmac(key []byte, data string) ([]byte, error) {
	m := hmac.New(s.newHash, key)
	if _, err := m.Write([]byte(data)); err != nil {
		return nil, fmt.Errorf("%w: hmac: %v", ErrSigning, err)
	}
	return m.Sum(nil), nil
}

func (s *Signer) hashHex(data []byte) (string, error) {
	h := s.newHash()
	if _, err := h.Write(data); err != nil {
		return "", fmt.Errorf("%w: hash: %v", ErrSigning, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalQuery renders v with sorted keys and RFC 3986 escaping.
func CanonicalQuery(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), v[k]...)
		sort.Strings(vals)
		for _, val := range vals {
			parts = append(parts, escape(k)+"="+escape(val))
		}
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
