package segment

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
)

var payload = bytes.Repeat([]byte("0123456789abcdef"), 256)

func testConfig() Config {
	return Config{
		SpeedCheckSize:       1024,
		MinSpeedThreshold:    1 << 20,
		MaxReconnectAttempts: 2,
		UserAgent:            "test-agent",
		Referer:              "https://www.bilibili.com",
		BufferSize:           512,
	}
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

type recordingListener struct {
	starts  []uint64
	updates []uint64
}

func (l *recordingListener) Start(total uint64)        { l.starts = append(l.starts, total) }
func (l *recordingListener) Update(transferred uint64) { l.updates = append(l.updates, transferred) }

func serveFull(w http.ResponseWriter) {
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

func newJob(t *testing.T) *Job {
	return NewJob("job-1", filepath.Join(t.TempDir(), "video.m4s"))
}

func TestDownload_Fast(t *testing.T) {
	assert := assert_.New(t)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		assert.Equal("test-agent", r.Header.Get("User-Agent"))
		assert.Equal("https://www.bilibili.com", r.Header.Get("Referer"))
		assert.Equal("SESSDATA=abc", r.Header.Get("Cookie"))
		serveFull(w)
	}))
	defer server.Close()

	job := newJob(t)
	listener := &recordingListener{}
	d := New(testConfig(), zap.NewNop(), WithClock(steppingClock(time.Microsecond)))
	require.NoError(t, d.Download(context.Background(), job, server.URL, "SESSDATA=abc", listener))

	assert.EqualValues(1, requests.Load())
	assert.EqualValues(len(payload), job.Total())
	assert.EqualValues(len(payload), job.Transferred())
	assert.Equal([]uint64{uint64(len(payload))}, listener.starts)
	assert.Equal(uint64(len(payload)), listener.updates[len(listener.updates)-1])
	data, err := os.ReadFile(job.Destination)
	require.NoError(t, err)
	assert.Equal(payload, data)
}

func TestDownload_SlowReconnectsUntilBudgetSpent(t *testing.T) {
	assert := assert_.New(t)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		serveFull(w)
	}))
	defer server.Close()

	job := newJob(t)
	listener := &recordingListener{}
	d := New(testConfig(), zap.NewNop(), WithClock(steppingClock(time.Hour)))
	require.NoError(t, d.Download(context.Background(), job, server.URL, "", listener))

	// Every connection is slow; the last one is kept regardless.
	assert.EqualValues(3, requests.Load())
	assert.Len(listener.starts, 3)
	data, err := os.ReadFile(job.Destination)
	require.NoError(t, err)
	assert.Equal(payload, data)
}

func TestDownload_ZeroReconnectBudgetSkipsSpeedCheck(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		serveFull(w)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxReconnectAttempts = 0
	d := New(cfg, zap.NewNop(), WithClock(steppingClock(time.Hour)))
	require.NoError(t, d.Download(context.Background(), newJob(t), server.URL, "", nil))
	assert_.EqualValues(t, 1, requests.Load())
}

func TestDownload_ShortPayloadSkipsSpeedCheck(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		w.Header().Set("Content-Length", "10")
		_, _ = w.Write(payload[:10])
	}))
	defer server.Close()

	job := newJob(t)
	d := New(testConfig(), zap.NewNop(), WithClock(steppingClock(time.Hour)))
	require.NoError(t, d.Download(context.Background(), job, server.URL, "", nil))
	assert_.EqualValues(t, 1, requests.Load())
	assert_.EqualValues(t, 10, job.Transferred())
}

func TestDownload_NetworkFailureRetriesAndTruncates(t *testing.T) {
	assert := assert_.New(t)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Inc() == 1 {
			// Declared length exceeds the body, so the client sees the connection drop mid-stream.
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			_, _ = w.Write(payload[:100])
			return
		}
		serveFull(w)
	}))
	defer server.Close()

	job := newJob(t)
	d := New(testConfig(), zap.NewNop(), WithClock(steppingClock(time.Microsecond)))
	require.NoError(t, d.Download(context.Background(), job, server.URL, "", nil))

	assert.EqualValues(2, requests.Load())
	data, err := os.ReadFile(job.Destination)
	require.NoError(t, err)
	assert.Equal(payload, data)
}

func TestDownload_NetworkFailureExhaustsBudget(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload[:100])
	}))
	defer server.Close()

	d := New(testConfig(), zap.NewNop())
	err := d.Download(context.Background(), newJob(t), server.URL, "", nil)
	assert_.ErrorIs(t, err, bili.ErrTransferFailed)
	assert_.EqualValues(t, 3, requests.Load())

	var transferErr *bili.TransferError
	require.True(t, errors.As(err, &transferErr))
	assert_.Equal(t, server.URL, transferErr.URL)
}

func TestDownload_BadStatus(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := New(testConfig(), zap.NewNop())
	err := d.Download(context.Background(), newJob(t), server.URL, "", nil)
	assert_.ErrorIs(t, err, bili.ErrTransferFailed)
	assert_.EqualValues(t, 3, requests.Load())
}

func TestDownload_ContentLengthMissing(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		_, _ = w.Write(payload[:100])
		w.(http.Flusher).Flush()
		_, _ = w.Write(payload[100:200])
	}))
	defer server.Close()

	d := New(testConfig(), zap.NewNop())
	err := d.Download(context.Background(), newJob(t), server.URL, "", nil)
	assert_.ErrorIs(t, err, bili.ErrContentLengthMissing)
	assert_.NotErrorIs(t, err, bili.ErrTransferFailed)
	assert_.EqualValues(t, 1, requests.Load())
}

func TestDownload_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveFull(w)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(testConfig(), zap.NewNop())
	err := d.Download(ctx, newJob(t), server.URL, "", nil)
	assert_.ErrorIs(t, err, bili.ErrTransferFailed)
	assert_.ErrorIs(t, err, context.Canceled)
}

func TestDownload_UnwritableDestination(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		serveFull(w)
	}))
	defer server.Close()

	job := NewJob("job-1", filepath.Join(t.TempDir(), "missing", "video.m4s"))
	d := New(testConfig(), zap.NewNop())
	err := d.Download(context.Background(), job, server.URL, "", nil)
	assert_.ErrorIs(t, err, bili.ErrTransferFailed)
	assert_.EqualValues(t, 0, requests.Load())
}
