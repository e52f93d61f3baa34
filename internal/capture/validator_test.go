package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newHTTPOnlyValidator forces the HTTP fallback path by pointing the
// probe binary at something that cannot exist.
func newHTTPOnlyValidator(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator(nil)
	v.probeBin = t.TempDir() + "/no-such-probe"
	return v
}

func TestValidateRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	ok, reason := NewValidator(nil).Validate(context.Background(), "  ", 2*time.Second)
	require.False(t, ok)
	require.Equal(t, "stream_url missing", reason)
}

func TestValidateAcceptsAudioStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		payload := make([]byte, 4096)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	ok, reason := newHTTPOnlyValidator(t).Validate(context.Background(), srv.URL, 2*time.Second)
	require.True(t, ok)
	require.Empty(t, reason)
}

func TestValidateReportsHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ok, reason := newHTTPOnlyValidator(t).Validate(context.Background(), srv.URL, 2*time.Second)
	require.False(t, ok)
	require.Equal(t, "HTTP 404", reason)
}

func TestValidateRejectsHTMLResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>not a stream</body></html>"))
	}))
	defer srv.Close()

	ok, reason := newHTTPOnlyValidator(t).Validate(context.Background(), srv.URL, 2*time.Second)
	require.False(t, ok)
	require.Equal(t, "html response", reason)
}

func TestValidateRejectsEmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok, reason := newHTTPOnlyValidator(t).Validate(context.Background(), srv.URL, 2*time.Second)
	require.False(t, ok)
	require.Equal(t, "no data received", reason)
}

func TestValidateSendsStreamHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotIcy string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotIcy = r.Header.Get("Icy-MetaData")
		w.Header().Set("Content-Type", "audio/aac")
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	ok, _ := newHTTPOnlyValidator(t).Validate(context.Background(), srv.URL, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, streamUserAgent, gotUA)
	require.Equal(t, "1", gotIcy)
}

func TestIsHTTPURL(t *testing.T) {
	t.Parallel()

	require.True(t, isHTTPURL("http://radio.example/live"))
	require.True(t, isHTTPURL("HTTPS://radio.example/live"))
	require.False(t, isHTTPURL("rtsp://radio.example/live"))
	require.False(t, isHTTPURL("file:///tmp/a.mp3"))
}

func TestLastLine(t *testing.T) {
	t.Parallel()

	require.Equal(t, "second", lastLine("first\nsecond\n", 200))
	require.Equal(t, "", lastLine("   \n", 200))
	require.Equal(t, "abcde", lastLine("abcdefgh", 5))
}
