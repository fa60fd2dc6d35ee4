// Package streams holds the report codec and the authenticated-request
// builder for the market-data report API.
package streams

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names expected by the upstream service.
const (
	HeaderAuthorization = "Authorization"
	HeaderTimestamp     = "X-Authorization-Timestamp"
	HeaderSignature     = "X-Authorization-Signature-SHA256"
)

// Clock returns the current wall-clock time.
type Clock func() time.Time

// SignerOption configures Signer.
type SignerOption func(*Signer)

// WithClock replaces the wall clock, typically with a fixed time in tests.
func WithClock(clock Clock) SignerOption {
	return func(s *Signer) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Signer produces authentication headers for bodyless upstream requests.
// It holds no mutable state and is safe for concurrent use.
type Signer struct {
	apiKey    string
	apiSecret string
	now       Clock
}

// NewSigner creates a Signer. Empty credentials yield ErrConfiguration.
func NewSigner(apiKey, apiSecret string, opts ...SignerOption) (*Signer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrConfiguration)
	}
	if apiSecret == "" {
		return nil, fmt.Errorf("%w: api secret is empty", ErrConfiguration)
	}

	s := &Signer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// APIKey returns the key masked for logging.
func (s *Signer) APIKey() string { return MaskKey(s.apiKey) }

// Sign builds a SignedRequest for method and path (path may carry a query string).
func (s *Signer) Sign(method, path string) (*SignedRequest, error) {
	return s.SignBody(method, path, nil)
}

// SignBody is Sign for requests that carry a body.
func (s *Signer) SignBody(method, path string, body []byte) (*SignedRequest, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: method is empty", ErrInvalidRequest)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidRequest, path)
	}

	// one clock read feeds both the signature and the timestamp header
	ts := s.now().UnixMilli()
	sig := signature(method, path, BodyHash(body), s.apiKey, s.apiSecret, ts)

	return &SignedRequest{
		Method:          method,
		Path:            path,
		TimestampMillis: ts,
		Signature:       sig,
		apiKey:          s.apiKey,
	}, nil
}

// Sign is the one-call form: it validates credentials and signs with the wall clock.
func Sign(method, path, apiKey, apiSecret string) (*SignedRequest, error) {
	s, err := NewSigner(apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	return s.Sign(method, path)
}

// SignedRequest is an immutable set of authentication values for one call.
type SignedRequest struct {
	Method          string
	Path            string
	TimestampMillis int64
	Signature       string

	apiKey string
}

// Headers returns the three authentication headers.
func (r *SignedRequest) Headers() map[string]string {
	return map[string]string{
		HeaderAuthorization: r.apiKey,
		HeaderTimestamp:     strconv.FormatInt(r.TimestampMillis, 10),
		HeaderSignature:     r.Signature,
	}
}

// Apply sets the authentication headers on h.
func (r *SignedRequest) Apply(h http.Header) {
	for k, v := range r.Headers() {
		h.Set(k, v)
	}
}

// BodyHash returns the lowercase hex SHA-256 digest of body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// StringToSign joins the signed fields with single spaces.
func StringToSign(method, path, bodyHash, apiKey string, timestampMillis int64) string {
	return strings.Join([]string{
		method,
		path,
		bodyHash,
		apiKey,
		strconv.FormatInt(timestampMillis, 10),
	}, " ")
}

// Verify recomputes the signature for a bodyless request. Intended for
// upstream fakes and tests.
func Verify(method, path, apiKey, apiSecret string, timestampMillis int64, sig string) bool {
	want := signature(method, path, BodyHash(nil), apiKey, apiSecret, timestampMillis)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(sig)))
}

// MaskKey keeps the first four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

func signature(method, path, bodyHash, apiKey, apiSecret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(StringToSign(method, path, bodyHash, apiKey, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}
