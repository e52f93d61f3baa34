package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const streamUserAgent = "Mozilla/5.0"

// Validator checks that a stream URL is reachable and plausibly audio
// before a recording attempt commits resources to it. Every branch
// resolves to (ok, reason); it never panics past its boundary.
type Validator struct {
	probeBin string
	client   *resty.Client
	logger   *zap.Logger
}

func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		probeBin: "ffprobe",
		client: resty.New().
			SetDoNotParseResponse(true).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)),
		logger: logger,
	}
}

// Validate probes the URL with the external format-inspection tool,
// falling back to an HTTP range fetch when the tool is absent or the
// failure looks transport-related.
func (v *Validator) Validate(ctx context.Context, streamURL string, timeout time.Duration) (bool, string) {
	if strings.TrimSpace(streamURL) == "" {
		return false, "stream_url missing"
	}
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	if isHTTPURL(streamURL) {
		args = append(args, "-user_agent", streamUserAgent)
	}
	args = append(args,
		"-rw_timeout", strconv.FormatInt(timeout.Microseconds(), 10),
		"-i", streamURL,
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
	)

	probeCtx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, v.probeBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return true, ""
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return v.validateHTTP(ctx, streamURL, timeout)
	}
	if probeCtx.Err() != nil {
		return false, "timeout"
	}

	reason := lastLine(stderr.String(), 200)
	if isHTTPURL(streamURL) {
		ok, httpReason := v.validateHTTP(ctx, streamURL, timeout)
		if ok {
			return true, ""
		}
		if httpReason != "" {
			return false, httpReason
		}
	}
	if reason == "" {
		reason = "stream unavailable"
	}
	return false, reason
}

func (v *Validator) validateHTTP(ctx context.Context, streamURL string, timeout time.Duration) (bool, string) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := v.client.R().
		SetContext(reqCtx).
		SetHeader("User-Agent", streamUserAgent).
		SetHeader("Icy-MetaData", "1").
		SetHeader("Accept", "*/*").
		Get(streamURL)
	if err != nil {
		return false, err.Error()
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode())
	}

	chunk := make([]byte, 4096)
	n, readErr := io.ReadFull(body, chunk)
	if n == 0 {
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return false, readErr.Error()
		}
		return false, "no data received"
	}

	contentType := strings.ToLower(resp.Header().Get("Content-Type"))
	isHTML := strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml+xml")

	snippet := bytes.ToLower(chunk[:min(n, 200)])
	if isHTML && (bytes.Contains(snippet, []byte("<html")) || bytes.Contains(snippet, []byte("<!doctype html"))) {
		return false, "html response"
	}

	// Audio or playlist content types and playlist signatures are strong
	// positive signals, but any non-HTML byte stream is accepted.
	return true, ""
}

func isHTTPURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func lastLine(s string, limit int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(last) > limit {
		last = last[:limit]
	}
	return last
}
