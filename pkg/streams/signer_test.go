package streams

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-key"
	testSecret = "test-secret"
	testPath   = "/api/v1/reports/latest?feedID=0x000359843a543ee2fe414dc14c7e7920ef10f4372990b79d6361cdc0dd1ba782"
	testMillis = int64(1718000000000)
)

func fixedClock(ms int64) Clock {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey, testSecret, WithClock(fixedClock(testMillis)))
	require.NoError(t, err)
	return s
}

func TestBodyHashOfEmptyBody(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", BodyHash(nil))
	assert.Equal(t, BodyHash(nil), BodyHash([]byte{}))
}

func TestSignKnownVector(t *testing.T) {
	req, err := newTestSigner(t).Sign(http.MethodGet, testPath)
	require.NoError(t, err)

	assert.Equal(t, "c0f24a0b9201a25e4d2e87db367068ae36a873a7ebb2fa94f0d046b701039b59", req.Signature)
	assert.Equal(t, testMillis, req.TimestampMillis)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, testPath, req.Path)
}

func TestStringToSignFieldOrder(t *testing.T) {
	got := StringToSign("GET", "/p?q=1", "abc", "key", 42)
	assert.Equal(t, "GET /p?q=1 abc key 42", got)
}

func TestSignIsDeterministic(t *testing.T) {
	s := newTestSigner(t)
	a, err := s.Sign(http.MethodGet, testPath)
	require.NoError(t, err)
	b, err := s.Sign(http.MethodGet, testPath)
	require.NoError(t, err)
	assert.Equal(t, a.Signature, b.Signature)
}

func TestSignChangesWithEveryField(t *testing.T) {
	base := signature("GET", "/a", BodyHash(nil), "k", "s", 1)

	variants := map[string]string{
		"method":    signature("POST", "/a", BodyHash(nil), "k", "s", 1),
		"path":      signature("GET", "/b", BodyHash(nil), "k", "s", 1),
		"body":      signature("GET", "/a", BodyHash([]byte("x")), "k", "s", 1),
		"apiKey":    signature("GET", "/a", BodyHash(nil), "k2", "s", 1),
		"apiSecret": signature("GET", "/a", BodyHash(nil), "k", "s2", 1),
		"timestamp": signature("GET", "/a", BodyHash(nil), "k", "s", 2),
	}
	for name, sig := range variants {
		assert.NotEqual(t, base, sig, "changing %s must change the signature", name)
	}
}

func TestSignedRequestHeaders(t *testing.T) {
	req, err := newTestSigner(t).Sign(http.MethodGet, testPath)
	require.NoError(t, err)

	h := req.Headers()
	assert.Equal(t, testKey, h[HeaderAuthorization], "authorization carries the raw key")
	assert.Equal(t, "1718000000000", h[HeaderTimestamp])
	assert.Equal(t, req.Signature, h[HeaderSignature])

	hdr := http.Header{}
	req.Apply(hdr)
	assert.Equal(t, testKey, hdr.Get("Authorization"))
	assert.Equal(t, "1718000000000", hdr.Get("X-Authorization-Timestamp"))
	assert.Equal(t, req.Signature, hdr.Get("X-Authorization-Signature-SHA256"))
}

func TestSignReadsClockOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return time.UnixMilli(testMillis + int64(calls))
	}
	s, err := NewSigner(testKey, testSecret, WithClock(clock))
	require.NoError(t, err)

	req, err := s.Sign(http.MethodGet, "/x")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, Verify(http.MethodGet, "/x", testKey, testSecret, req.TimestampMillis, req.Signature))
}

func TestNewSignerRejectsEmptyCredentials(t *testing.T) {
	_, err := NewSigner("", testSecret)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = NewSigner(testKey, "")
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = Sign(http.MethodGet, "/x", "", "")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSignRejectsInvalidRequest(t *testing.T) {
	s := newTestSigner(t)

	_, err := s.Sign("", "/x")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.Sign(http.MethodGet, "api/v1")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestVerify(t *testing.T) {
	req, err := newTestSigner(t).Sign(http.MethodGet, testPath)
	require.NoError(t, err)

	assert.True(t, Verify(http.MethodGet, testPath, testKey, testSecret, testMillis, req.Signature))
	assert.False(t, Verify(http.MethodGet, testPath, testKey, "other", testMillis, req.Signature))
	assert.False(t, Verify(http.MethodGet, testPath, testKey, testSecret, testMillis+1, req.Signature))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", MaskKey("abc"))
	assert.Equal(t, "abcd****", MaskKey("abcdefgh"))
	assert.Equal(t, "test****", newTestSigner(t).APIKey())
}

func TestSignConcurrent(t *testing.T) {
	s := newTestSigner(t)
	var wg sync.WaitGroup
	sigs := make([]string, 16)
	for i := range sigs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := s.Sign(http.MethodGet, testPath)
			if err == nil {
				sigs[i] = req.Signature
			}
		}(i)
	}
	wg.Wait()
	for _, sig := range sigs {
		assert.Equal(t, sigs[0], sig)
	}
}
