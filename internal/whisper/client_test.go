package whisper

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garloff/jitsi-whisper-bridge/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSegment(language string) *audio.Segment {
	return &audio.Segment{
		PCM:        make([]byte, 32000), // 1s at 16kHz
		SampleRate: 16000,
		Language:   language,
		Duration:   time.Second,
	}
}

func newTestClient(url string, timeout time.Duration, maxRetries int) *Client {
	return NewClient(Config{
		URL:            url,
		Timeout:        timeout,
		MaxRetries:     maxRetries,
		AutoDetectCode: "auto",
	}, testLogger())
}

func TestTranscribeSuccess(t *testing.T) {
	var gotLanguage, gotTemperature, gotFormat string
	var gotFileSize int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		gotLanguage = r.FormValue("language")
		gotTemperature = r.FormValue("temperature")
		gotFormat = r.FormValue("response-format")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotFileSize = len(data)

		json.NewEncoder(w).Encode(map[string]string{
			"text":     "  The meeting starts at noon.  ",
			"language": "en",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	result := client.Transcribe(context.Background(), testSegment("en"))

	if result.Status != StatusOk {
		t.Fatalf("status = %v, want ok", result.Status)
	}
	if result.Text != "The meeting starts at noon." {
		t.Errorf("text = %q, want trimmed transcript", result.Text)
	}
	if result.Language != "en" {
		t.Errorf("language = %q, want en", result.Language)
	}
	if gotLanguage != "en" {
		t.Errorf("request language field = %q, want en", gotLanguage)
	}
	if gotTemperature != "0.0" {
		t.Errorf("temperature field = %q, want 0.0", gotTemperature)
	}
	if gotFormat != "json" {
		t.Errorf("response-format field = %q, want json", gotFormat)
	}
	if gotFileSize != 44+32000 {
		t.Errorf("uploaded file size = %d, want 44-byte header plus PCM", gotFileSize)
	}

	stats := client.GetStats()
	if stats.RequestsSent != 1 || stats.RequestsOk != 1 {
		t.Errorf("stats = %+v, want one successful request", stats)
	}
}

func TestTranscribeAutoDetectOmitsLanguage(t *testing.T) {
	var hasLanguage bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(16 << 20)
		_, hasLanguage = r.MultipartForm.Value["language"]
		json.NewEncoder(w).Encode(map[string]string{"text": "hello", "language": "sv"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	result := client.Transcribe(context.Background(), testSegment("auto"))

	if result.Status != StatusOk {
		t.Fatalf("status = %v, want ok", result.Status)
	}
	if hasLanguage {
		t.Error("language field sent for auto-detect segment")
	}
	if result.Language != "sv" {
		t.Errorf("detected language = %q, want sv", result.Language)
	}
}

func TestTranscribeBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	result := client.Transcribe(context.Background(), testSegment("en"))

	if result.Status != StatusBackendError {
		t.Errorf("status = %v, want error", result.Status)
	}
	if result.Text != "" {
		t.Errorf("text = %q, want empty on failure", result.Text)
	}

	stats := client.GetStats()
	if stats.RequestsError != 1 {
		t.Errorf("RequestsError = %d, want 1", stats.RequestsError)
	}
}

func TestTranscribeMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not json"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	result := client.Transcribe(context.Background(), testSegment("en"))

	if result.Status != StatusBackendError {
		t.Errorf("status = %v, want error", result.Status)
	}
}

func TestTranscribeTimeoutNotRetried(t *testing.T) {
	var requests int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{"text": "too late"})
	}))
	defer server.Close()

	// retries enabled, but a timeout must still give up after one attempt
	client := newTestClient(server.URL, 50*time.Millisecond, 2)
	result := client.Transcribe(context.Background(), testSegment("en"))

	if result.Status != StatusBackendTimeout {
		t.Fatalf("status = %v, want timeout", result.Status)
	}
	if n := atomic.LoadInt64(&requests); n != 1 {
		t.Errorf("backend saw %d requests, want exactly 1", n)
	}

	stats := client.GetStats()
	if stats.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", stats.Timeouts)
	}
}

func TestTranscribeRetriesTransportError(t *testing.T) {
	var requests int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&requests, 1)
		if n == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "recovered", "language": "en"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 1)
	result := client.Transcribe(context.Background(), testSegment("en"))

	if result.Status != StatusOk {
		t.Fatalf("status = %v, want ok after retry", result.Status)
	}
	if result.Text != "recovered" {
		t.Errorf("text = %q, want recovered", result.Text)
	}
	if n := atomic.LoadInt64(&requests); n != 2 {
		t.Errorf("backend saw %d requests, want 2", n)
	}
}

func TestTranscribeInferenceErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "decode failed"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5*time.Second, 0)
	result := client.Transcribe(context.Background(), testSegment("en"))

	if result.Status != StatusBackendError {
		t.Errorf("status = %v, want error for error field in body", result.Status)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOk, "ok"},
		{StatusBackendTimeout, "timeout"},
		{StatusBackendError, "error"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
