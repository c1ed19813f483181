// Package segment streams one elementary track from the CDN to a file.
//
// The first SpeedCheckSize bytes of every connection are timed. If they arrive slower than MinSpeedThreshold the
// connection is dropped and the request is repeated, since a new connection is usually routed to a different edge
// node. Network failures consume the same reconnect budget. Once the budget is spent the active connection is used
// whatever its speed, and the next failure is fatal.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
)

const DefaultBufferSize = 64 << 10

type Config struct {
	SpeedCheckSize       int64
	MinSpeedThreshold    int64
	MaxReconnectAttempts int
	UserAgent            string
	Referer              string
	BufferSize           int
}

func ConfigFrom(cfg bili.Config) Config {
	return Config{
		SpeedCheckSize:       cfg.SpeedCheckSize,
		MinSpeedThreshold:    cfg.MinSpeedThreshold,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		UserAgent:            cfg.UserAgent,
		Referer:              cfg.Referer,
		BufferSize:           DefaultBufferSize,
	}
}

// A Job is one elementary stream transfer. Its counters are written only by the Download call that owns it and may be
// read concurrently by anyone.
type Job struct {
	ID          string
	Destination string

	total       atomic.Uint64
	transferred atomic.Uint64
}

func NewJob(id, destination string) *Job {
	return &Job{ID: id, Destination: destination}
}

func (j *Job) Total() uint64 {
	return j.total.Load()
}

func (j *Job) Transferred() uint64 {
	return j.transferred.Load()
}

func (j *Job) restart(total uint64) {
	j.total.Store(total)
	j.transferred.Store(0)
}

// Listener is told about the size of each attempt and the bytes received so far; *progress.Reporter implements it.
type Listener interface {
	Start(total uint64)
	Update(transferred uint64)
}

type nopListener struct{}

func (nopListener) Start(uint64)  {}
func (nopListener) Update(uint64) {}

type Downloader struct {
	cfg    Config
	client *resty.Client
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Downloader)

// WithClock overrides the clock used for the speed check.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) {
		d.now = now
	}
}

func New(cfg Config, log *zap.Logger, opts ...Option) *Downloader {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	// No overall timeout: a transfer legitimately runs for as long as the stream takes.
	client := resty.New().
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Referer", cfg.Referer)
	d := &Downloader{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		log:    log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var errTooSlow = errors.New("connection below speed threshold")

// permanentError stops the retry loop regardless of the remaining budget.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Download fetches url into job.Destination. cookieHeader is sent as-is when non-empty; listener may be nil.
//
// On failure the destination is left truncated and must not be used.
func (d *Downloader) Download(ctx context.Context, job *Job, url string, cookieHeader string, listener Listener) error {
	if listener == nil {
		listener = nopListener{}
	}
	log := d.log.With(zap.String("job_id", job.ID))
	reconnects := 0
	for {
		checkSpeed := reconnects < d.cfg.MaxReconnectAttempts
		err := d.attempt(ctx, job, url, cookieHeader, listener, checkSpeed)
		if err == nil {
			log.Debug("transfer complete", zap.Uint64("bytes", job.Transferred()), zap.Int("reconnects", reconnects))
			return nil
		}

		var permanent *permanentError
		switch {
		case errors.Is(err, bili.ErrContentLengthMissing):
			return err
		case errors.As(err, &permanent):
			return &bili.TransferError{URL: url, Err: permanent.err}
		case ctx.Err() != nil:
			return &bili.TransferError{URL: url, Err: ctx.Err()}
		case reconnects >= d.cfg.MaxReconnectAttempts:
			return &bili.TransferError{URL: url, Err: err}
		}
		reconnects++
		log.Info("reconnecting",
			zap.Int("attempt", reconnects),
			zap.Int("max_attempts", d.cfg.MaxReconnectAttempts),
			zap.String("reason", err.Error()))
	}
}

func (d *Downloader) attempt(ctx context.Context, job *Job, url string, cookieHeader string, listener Listener, checkSpeed bool) error {
	// Truncate on every attempt: bytes from an abandoned connection are never kept.
	f, err := os.OpenFile(job.Destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &permanentError{err}
	}
	defer f.Close()
	job.restart(0)

	start := d.now()
	req := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if cookieHeader != "" {
		req.SetHeader("Cookie", cookieHeader)
	}
	resp, err := req.Get(url)
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("unexpected status: %s", resp.Status())
	}

	length := resp.RawResponse.ContentLength
	if length < 0 {
		return bili.ErrContentLengthMissing
	}
	job.restart(uint64(length))
	listener.Start(uint64(length))

	buf := make([]byte, d.cfg.BufferSize)
	var received int64
	checked := !checkSpeed
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return &permanentError{err}
			}
			received += int64(n)
			job.transferred.Add(uint64(n))
			listener.Update(job.Transferred())

			if !checked && received >= d.cfg.SpeedCheckSize {
				checked = true
				if speed, slow := d.tooSlow(received, d.now().Sub(start)); slow {
					d.log.Debug("slow edge node",
						zap.String("job_id", job.ID),
						zap.Float64("bytes_per_sec", speed),
						zap.Int64("threshold", d.cfg.MinSpeedThreshold))
					return errTooSlow
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if received != length {
		return fmt.Errorf("received %d of %d bytes: %w", received, length, io.ErrUnexpectedEOF)
	}
	if err := f.Close(); err != nil {
		return &permanentError{err}
	}
	return nil
}

func (d *Downloader) tooSlow(received int64, elapsed time.Duration) (float64, bool) {
	if elapsed <= 0 {
		return 0, false
	}
	speed := float64(received) / elapsed.Seconds()
	return speed, speed < float64(d.cfg.MinSpeedThreshold)
}
