package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

const (
	contentEndpoint = "https://content.dropboxapi.com/2"
	apiEndpoint     = "https://api.dropboxapi.com/2"

	// simpleUploadLimit is Dropbox's cap for single-request uploads;
	// larger files go through an upload session.
	simpleUploadLimit = 150 * 1024 * 1024
	sessionChunkSize  = 8 * 1024 * 1024
)

// RadioSource resolves the station metadata used for hierarchy layout.
type RadioSource interface {
	Radio(ctx context.Context, id string) (*domain.Radio, error)
}

// Config for the Dropbox client.
type Config struct {
	AccessToken string
	BasePath    string
	Layout      string
}

// Client uploads capture files to Dropbox. Satisfies the capture
// package's Archiver interface.
type Client struct {
	cfg    Config
	radios RadioSource
	http   *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(cfg Config, radios RadioSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		radios: radios,
		http: resty.New().
			SetTimeout(5 * time.Minute).
			SetAuthToken(cfg.AccessToken),
		logger: logger,
		now:    time.Now,
	}
}

// Ready reports whether uploads are configured.
func (c *Client) Ready() bool {
	return strings.TrimSpace(c.cfg.AccessToken) != ""
}

// Archive uploads the local file and returns its remote path.
func (c *Client) Archive(ctx context.Context, rec *domain.Recording, localPath string) (string, error) {
	if !c.Ready() {
		return "", fmt.Errorf("dropbox access token is not configured")
	}

	var radio *domain.Radio
	if c.radios != nil && rec.RadioID != "" {
		loaded, err := c.radios.Radio(ctx, rec.RadioID)
		if err != nil {
			c.logger.Warn("radio lookup for archive layout", zap.String("radio_id", rec.RadioID), zap.Error(err))
		} else {
			radio = loaded
		}
	}

	capturedAt := rec.CriadoEm
	if capturedAt.IsZero() {
		capturedAt = c.now()
	}
	dest := BuildAudioDestination(c.cfg.BasePath, c.cfg.Layout, rec, radio, capturedAt)

	if err := c.ensureFolder(ctx, pathDir(dest.RemotePath)); err != nil {
		return "", err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat upload source: %w", err)
	}

	if info.Size() <= simpleUploadLimit {
		if err := c.uploadSimple(ctx, localPath, dest.RemotePath); err != nil {
			return "", err
		}
		return dest.RemotePath, nil
	}
	if err := c.uploadChunked(ctx, localPath, dest.RemotePath, info.Size()); err != nil {
		return "", err
	}
	return dest.RemotePath, nil
}

func pathDir(remotePath string) string {
	idx := strings.LastIndex(remotePath, "/")
	if idx <= 0 {
		return "/"
	}
	return remotePath[:idx]
}

// ensureFolder creates the remote folder tree; an existing folder is not
// an error.
func (c *Client) ensureFolder(ctx context.Context, remoteDir string) error {
	if remoteDir == "" || remoteDir == "/" {
		return nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"path": remoteDir, "autorename": false}).
		Post(apiEndpoint + "/files/create_folder_v2")
	if err != nil {
		return fmt.Errorf("create remote folder: %w", err)
	}
	if resp.IsSuccess() || resp.StatusCode() == 409 {
		return nil
	}
	return fmt.Errorf("create remote folder %s: HTTP %d: %s", remoteDir, resp.StatusCode(), resp.String())
}

func apiArg(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func (c *Client) uploadSimple(ctx context.Context, localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Dropbox-API-Arg", apiArg(map[string]any{
			"path": remotePath,
			"mode": "overwrite",
			"mute": true,
		})).
		SetBody(file).
		Post(contentEndpoint + "/files/upload")
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("upload %s: HTTP %d: %s", remotePath, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) uploadChunked(ctx context.Context, localPath, remotePath string, size int64) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	chunk := make([]byte, sessionChunkSize)

	n, err := io.ReadFull(file, chunk)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("read upload source: %w", err)
	}

	var started struct {
		SessionID string `json:"session_id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Dropbox-API-Arg", apiArg(map[string]any{"close": false})).
		SetBody(chunk[:n]).
		SetResult(&started).
		Post(contentEndpoint + "/files/upload_session/start")
	if err != nil {
		return fmt.Errorf("start upload session: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("start upload session: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	offset := int64(n)
	for offset < size-int64(sessionChunkSize) {
		n, err = io.ReadFull(file, chunk)
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("read upload source: %w", err)
		}
		resp, err = c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/octet-stream").
			SetHeader("Dropbox-API-Arg", apiArg(map[string]any{
				"cursor": map[string]any{"session_id": started.SessionID, "offset": offset},
			})).
			SetBody(chunk[:n]).
			Post(contentEndpoint + "/files/upload_session/append_v2")
		if err != nil {
			return fmt.Errorf("append upload session: %w", err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("append upload session: HTTP %d: %s", resp.StatusCode(), resp.String())
		}
		offset += int64(n)
	}

	rest, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read upload source tail: %w", err)
	}
	resp, err = c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Dropbox-API-Arg", apiArg(map[string]any{
			"cursor": map[string]any{"session_id": started.SessionID, "offset": offset},
			"commit": map[string]any{"path": remotePath, "mode": "overwrite", "mute": true},
		})).
		SetBody(rest).
		Post(contentEndpoint + "/files/upload_session/finish")
	if err != nil {
		return fmt.Errorf("finish upload session: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("finish upload session: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
