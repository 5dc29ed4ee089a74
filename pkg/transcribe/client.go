// Package transcribe wraps the speech-to-text microservice. Recordings are
// downloaded from the telephony CDN and submitted as multipart uploads.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/resilience"
)

// Result is a completed transcription response.
type Result struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
	Language   string   `json:"language,omitempty"`
}

// Client is the transcription surface the pipeline depends on.
type Client interface {
	// DownloadRecording fetches the audio at url, bounded by the configured
	// size cap. Oversized recordings fail rather than truncate.
	DownloadRecording(ctx context.Context, url string) ([]byte, error)

	// Transcribe submits audio for recognition. filename carries the original
	// extension so the service can pick a decoder.
	Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error)

	// Ping verifies the service is reachable.
	Ping(ctx context.Context) error
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithMaxDownloadBytes caps recording downloads. Zero keeps the default 64 MiB.
func WithMaxDownloadBytes(n int64) Option {
	return func(c *client) {
		if n > 0 {
			c.maxDownload = n
		}
	}
}

// WithLanguageHint sets the recognition language passed with each upload.
func WithLanguageHint(lang string) Option {
	return func(c *client) { c.language = lang }
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

type client struct {
	baseURL     string
	language    string
	maxDownload int64

	http  *http.Client
	retry resilience.RetryConfig
}

// NewClient creates a transcription client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		language:    "uz",
		maxDownload: 64 * 1024 * 1024,
		http:        &http.Client{Timeout: 60 * time.Second},
		retry:       resilience.ForService("transcribe", "call"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) DownloadRecording(ctx context.Context, url string) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "transcribe: build download request")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "transcribe: download recording")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("transcribe: download returned status %d", resp.StatusCode)
			return nil, resilience.MarkTransientHTTP(err, resp.StatusCode)
		}

		// Read one byte past the cap to distinguish exactly-at-cap from over.
		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
		if err != nil {
			return nil, eris.Wrap(err, "transcribe: read recording body")
		}
		if int64(len(data)) > c.maxDownload {
			return nil, eris.Errorf("transcribe: recording exceeds %d byte cap", c.maxDownload)
		}

		zap.L().Debug("recording downloaded",
			zap.String("url", url),
			zap.Int("bytes", len(data)),
		)
		return data, nil
	})
}

func (c *client) Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error) {
	if len(audio) == 0 {
		return nil, eris.New("transcribe: empty audio payload")
	}
	if filename == "" {
		filename = "recording.mp3"
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Result, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		part, err := writer.CreateFormFile("file", path.Base(filename))
		if err != nil {
			return nil, eris.Wrap(err, "transcribe: create form file")
		}
		if _, err := part.Write(audio); err != nil {
			return nil, eris.Wrap(err, "transcribe: write form file")
		}
		if c.language != "" {
			if err := writer.WriteField("language", c.language); err != nil {
				return nil, eris.Wrap(err, "transcribe: write language field")
			}
		}
		if err := writer.Close(); err != nil {
			return nil, eris.Wrap(err, "transcribe: finalize form")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &buf)
		if err != nil {
			return nil, eris.Wrap(err, "transcribe: build request")
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "transcribe: submit audio")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
		if err != nil {
			return nil, eris.Wrap(err, "transcribe: read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("transcribe: service returned status %d: %s",
				resp.StatusCode, truncate(string(body), 200))
			return nil, resilience.MarkTransientHTTP(err, resp.StatusCode)
		}

		var result Result
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, eris.Wrap(err, "transcribe: decode response")
		}
		return &result, nil
	})
}

func (c *client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return eris.Wrap(err, "transcribe: build health request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "transcribe: health check")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("transcribe: health returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
