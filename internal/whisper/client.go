package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/garloff/jitsi-whisper-bridge/internal/audio"
)

// Status classifies the outcome of one backend request
type Status int

const (
	StatusOk Status = iota
	StatusBackendTimeout
	StatusBackendError
)

// String returns the status label used in logs and metrics
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusBackendTimeout:
		return "timeout"
	case StatusBackendError:
		return "error"
	default:
		return "unknown"
	}
}

// Result holds the outcome of one transcription request. Text and Language
// are meaningful only when Status is StatusOk.
type Result struct {
	Text     string
	Language string
	Status   Status
	Latency  time.Duration
}

// Config contains backend client settings
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int    // extra attempts after a transport error; never applied to timeouts
	AutoDetectCode string // language value that means "let the backend decide"
}

// inferenceResponse is the JSON body of a successful backend reply
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client sends audio segments to the recognition backend over HTTP.
// The backend processes one segment per request; the bridge never streams.
// Client is safe for concurrent use by multiple sessions.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger

	// Statistics
	requestsSent  uint64
	requestsOk    uint64
	requestsError uint64
	timeouts      uint64
}

// NewClient creates a backend client
func NewClient(config Config, logger *slog.Logger) *Client {
	return &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Transcribe sends one segment to the backend and returns a classified
// result. Failures are terminal for the segment: a timeout is never retried,
// and transport errors are retried only when MaxRetries is positive.
// Transcribe never returns nil.
func (c *Client) Transcribe(ctx context.Context, segment *audio.Segment) *Result {
	start := time.Now()

	wavData, err := audio.EncodeWAV(segment.PCM, segment.SampleRate)
	if err != nil {
		c.logger.Error("Failed to encode segment",
			slog.String("error", err.Error()))
		atomic.AddUint64(&c.requestsError, 1)
		return &Result{Status: StatusBackendError, Latency: time.Since(start)}
	}

	attempts := 1 + c.config.MaxRetries
	var result *Result
	for attempt := 0; attempt < attempts; attempt++ {
		result = c.doRequest(ctx, wavData, segment.Language)
		result.Latency = time.Since(start)

		switch result.Status {
		case StatusOk:
			atomic.AddUint64(&c.requestsOk, 1)
			return result
		case StatusBackendTimeout:
			// A timeout already consumed the full backend budget; retrying
			// would double it and stall the session.
			atomic.AddUint64(&c.timeouts, 1)
			return result
		}

		if attempt < attempts-1 {
			c.logger.Warn("Backend request failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", attempts))
		}
	}

	atomic.AddUint64(&c.requestsError, 1)
	return result
}

// doRequest performs a single HTTP inference call
func (c *Client) doRequest(ctx context.Context, wavData []byte, language string) *Result {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return &Result{Status: StatusBackendError}
	}
	if _, err := part.Write(wavData); err != nil {
		return &Result{Status: StatusBackendError}
	}

	writer.WriteField("temperature", "0.0")
	writer.WriteField("response-format", "json")
	if language != "" && language != c.config.AutoDetectCode {
		writer.WriteField("language", language)
	}

	if err := writer.Close(); err != nil {
		return &Result{Status: StatusBackendError}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, body)
	if err != nil {
		return &Result{Status: StatusBackendError}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	atomic.AddUint64(&c.requestsSent, 1)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("Backend request timed out",
				slog.Duration("timeout", c.config.Timeout))
			return &Result{Status: StatusBackendTimeout}
		}
		c.logger.Error("Backend request failed",
			slog.String("error", err.Error()))
		return &Result{Status: StatusBackendError}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Result{Status: StatusBackendError}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Backend returned error status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncate(string(respBody), 200)))
		return &Result{Status: StatusBackendError}
	}

	var inference inferenceResponse
	if err := json.Unmarshal(respBody, &inference); err != nil {
		c.logger.Error("Failed to parse backend response",
			slog.String("error", err.Error()))
		return &Result{Status: StatusBackendError}
	}
	if inference.Error != "" {
		c.logger.Error("Backend reported inference error",
			slog.String("error", inference.Error))
		return &Result{Status: StatusBackendError}
	}

	return &Result{
		Text:     strings.TrimSpace(inference.Text),
		Language: inference.Language,
		Status:   StatusOk,
	}
}

// isTimeout reports whether a transport error is a deadline expiry
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// truncate shortens a string for log output
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Stats holds cumulative client counters
type Stats struct {
	RequestsSent  uint64 `json:"requests_sent"`
	RequestsOk    uint64 `json:"requests_ok"`
	RequestsError uint64 `json:"requests_error"`
	Timeouts      uint64 `json:"timeouts"`
}

// GetStats returns a snapshot of the client counters
func (c *Client) GetStats() Stats {
	return Stats{
		RequestsSent:  atomic.LoadUint64(&c.requestsSent),
		RequestsOk:    atomic.LoadUint64(&c.requestsOk),
		RequestsError: atomic.LoadUint64(&c.requestsError),
		Timeouts:      atomic.LoadUint64(&c.timeouts),
	}
}

// CheckHealth performs a lightweight reachability probe against the backend
// host. Used by the monitoring endpoint, never on the audio path.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	resp.Body.Close()

	return nil
}
