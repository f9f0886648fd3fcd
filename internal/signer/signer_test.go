package signer

import (
	"errors"
	"hash"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

var testTime = time.Date(2019, 3, 12, 0, 35, 25, 0, time.UTC)

func testSigner() *Signer {
	return New(Config{
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Region:    "us-east-1",
		Service:   "execute-api",
	})
}

func testRequest() Request {
	return Request{
		Method: http.MethodGet,
		Host:   "lookup.example.com",
		Path:   "/test/FlingrRegistration",
		Query:  "Key=4OPRA9",
	}
}

func TestSign_KnownAnswer(t *testing.T) {
	sig, err := testSigner().Sign(testRequest(), testTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	want := "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20190312/us-east-1/execute-api/aws4_request, " +
		"SignedHeaders=content-type;host;x-amz-date, " +
		"Signature=920e537218b09c2985c229c8230e4161e7a1d5d1e08d23184799d52d3029e5be"
	if sig.Authorization != want {
		t.Errorf("Authorization = %s\nwant %s", sig.Authorization, want)
	}
	if sig.Timestamp != "20190312T003525Z" {
		t.Errorf("Timestamp = %s, want 20190312T003525Z", sig.Timestamp)
	}
	if sig.PayloadHash != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("PayloadHash = %s, want hash of empty payload", sig.PayloadHash)
	}
}

func TestSign_CanonicalRequestLayout(t *testing.T) {
	sig, err := testSigner().Sign(testRequest(), testTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	lines := strings.Split(sig.Context.CanonicalRequest, "\n")
	want := []string{
		"GET",
		"/test/FlingrRegistration",
		"Key=4OPRA9",
		"content-type:application/json",
		"host:lookup.example.com",
		"x-amz-date:20190312T003525Z",
		"",
		SignedHeaders,
		sig.PayloadHash,
	}
	if len(lines) != len(want) {
		t.Fatalf("canonical request has %d lines, want %d:\n%s", len(lines), len(want), sig.Context.CanonicalRequest)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	if sig.Context.CredentialScope != "20190312/us-east-1/execute-api/aws4_request" {
		t.Errorf("CredentialScope = %s", sig.Context.CredentialScope)
	}
	if !strings.HasPrefix(sig.Context.StringToSign, Algorithm+"\n20190312T003525Z\n") {
		t.Errorf("StringToSign has wrong prefix: %q", sig.Context.StringToSign)
	}
	if len(sig.Context.SigningKey) != 32 {
		t.Errorf("SigningKey length = %d, want 32", len(sig.Context.SigningKey))
	}
}

func TestSign_Deterministic(t *testing.T) {
	s := testSigner()

	a, err := s.Sign(testRequest(), testTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	b, err := s.Sign(testRequest(), testTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if a.Authorization != b.Authorization {
		t.Errorf("signatures differ for identical input:\n%s\n%s", a.Authorization, b.Authorization)
	}
}

func TestSign_InputsChangeSignature(t *testing.T) {
	base, err := testSigner().Sign(testRequest(), testTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	otherQuery := testRequest()
	otherQuery.Query = "Key=ZZZZZZ"

	otherSecret := New(Config{AccessKey: "AKIDEXAMPLE", SecretKey: "other", Region: "us-east-1", Service: "execute-api"})

	tests := []struct {
		name   string
		signer *Signer
		req    Request
		at     time.Time
	}{
		{"query", testSigner(), otherQuery, testTime},
		{"timestamp", testSigner(), testRequest(), testTime.Add(time.Second)},
		{"secret", otherSecret, testRequest(), testTime},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := tc.signer.Sign(tc.req, tc.at)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if sig.Authorization == base.Authorization {
				t.Errorf("changing %s did not change the signature", tc.name)
			}
		})
	}
}

func TestSign_NonUTCTimeNormalized(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)

	a, err := testSigner().Sign(testRequest(), testTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	b, err := testSigner().Sign(testRequest(), testTime.In(loc))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if a.Authorization != b.Authorization {
		t.Error("same instant in a different zone produced a different signature")
	}
}

type failingHash struct {
	written int
}

func (h *failingHash) Write(p []byte) (int, error) { return 0, errors.New("provider unavailable") }
func (h *failingHash) Sum(b []byte) []byte         { return append(b, make([]byte, 32)...) }
func (h *failingHash) Reset()                      { h.written = 0 }
func (h *failingHash) Size() int                   { return 32 }
func (h *failingHash) BlockSize() int              { return 64 }

func TestSign_ProviderFailure(t *testing.T) {
	s := New(Config{
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Region:    "us-east-1",
		Service:   "execute-api",
		NewHash:   func() hash.Hash { return &failingHash{} },
	})

	sig, err := s.Sign(testRequest(), testTime)
	if !errors.Is(err, ErrSigning) {
		t.Fatalf("Sign() error = %v, want ErrSigning", err)
	}
	if sig != nil {
		t.Errorf("Sign() returned a signature on failure: %+v", sig)
	}
}

func TestApply(t *testing.T) {
	sig, err := testSigner().Sign(testRequest(), testTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "https://lookup.example.com/test/FlingrRegistration?Key=4OPRA9", nil)
	sig.Apply(req)

	if got := req.Header.Get("Content-Type"); got != ContentType {
		t.Errorf("Content-Type = %s, want %s", got, ContentType)
	}
	if got := req.Header.Get("X-Amz-Date"); got != "20190312T003525Z" {
		t.Errorf("X-Amz-Date = %s", got)
	}
	if got := req.Header.Get("Authorization"); got != sig.Authorization {
		t.Errorf("Authorization = %s, want %s", got, sig.Authorization)
	}
	if got := req.Header[HeaderContentSHA256]; len(got) != 1 || got[0] != sig.PayloadHash {
		t.Errorf("x-amz-content-sha256 = %v, want [%s]", got, sig.PayloadHash)
	}
}

func TestCanonicalQuery(t *testing.T) {
	tests := []struct {
		name string
		in   url.Values
		want string
	}{
		{"single", url.Values{"Key": {"4OPRA9"}}, "Key=4OPRA9"},
		{"sorted keys", url.Values{"b": {"2"}, "a": {"1"}}, "a=1&b=2"},
		{"space as %20", url.Values{"Key": {"a b"}}, "Key=a%20b"},
		{"reserved escaped", url.Values{"Key": {"a/b=c"}}, "Key=a%2Fb%3Dc"},
		{"unreserved kept", url.Values{"Key": {"a-b_c.d~e"}}, "Key=a-b_c.d~e"},
		{"empty", url.Values{}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanonicalQuery(tc.in); got != tc.want {
				t.Errorf("CanonicalQuery() = %q, want %q", got, tc.want)
			}
		})
	}
}
