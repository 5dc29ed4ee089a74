package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadcheck/internal/resilience"
)

func noRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 1})
}

func TestDownloadRecording(t *testing.T) {
	payload := []byte("fake-mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, noRetry())
	data, err := c.DownloadRecording(context.Background(), srv.URL+"/rec.mp3")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownloadRecording_SizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	t.Run("over cap fails", func(t *testing.T) {
		c := NewClient(srv.URL, noRetry(), WithMaxDownloadBytes(512))
		_, err := c.DownloadRecording(context.Background(), srv.URL+"/rec.mp3")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cap")
	})

	t.Run("exactly at cap succeeds", func(t *testing.T) {
		c := NewClient(srv.URL, noRetry(), WithMaxDownloadBytes(1024))
		data, err := c.DownloadRecording(context.Background(), srv.URL+"/rec.mp3")
		require.NoError(t, err)
		assert.Len(t, data, 1024)
	})
}

func TestDownloadRecording_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, noRetry())
	_, err := c.DownloadRecording(context.Background(), srv.URL+"/gone.mp3")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err), "404 must not be retried")
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transcribe", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "uz", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "rec.mp3", header.Filename)

		conf := 0.92
		dur := 41.5
		json.NewEncoder(w).Encode(Result{
			Text:       "Assalomu alaykum",
			Confidence: &conf,
			Duration:   &dur,
			Language:   "uz",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, noRetry())
	result, err := c.Transcribe(context.Background(), []byte("audio"), "rec.mp3")
	require.NoError(t, err)
	assert.Equal(t, "Assalomu alaykum", result.Text)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.92, *result.Confidence, 1e-9)
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	c := NewClient("http://localhost:1", noRetry())
	_, err := c.Transcribe(context.Background(), nil, "rec.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty audio")
}

func TestTranscribe_ServerErrorIsTransient(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Result{Text: "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
	result, err := c.Transcribe(context.Background(), []byte("audio"), "rec.mp3")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, 2, attempts)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, noRetry())
	require.NoError(t, c.Ping(context.Background()))
}
