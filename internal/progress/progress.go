// Package progress turns byte counters into rate and percentage snapshots and pushes them to a listener. Delivery is
// best effort: a listener that refuses or panics never affects the transfer being reported.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	bytesPerMiB = 1 << 20

	DefaultMinInterval = 500 * time.Millisecond
)

type Progress struct {
	JobID            string
	TotalBytes       uint64
	TransferredBytes uint64
	TotalMiB         float64
	TransferredMiB   float64
	Percentage       float64
	RateBytesPerSec  float64
	ElapsedSeconds   float64
}

// Compute derives a snapshot. Percentage is 0 when total is 0 and rate is 0 when elapsed is 0.
func Compute(jobID string, total, transferred uint64, elapsed time.Duration) Progress {
	p := Progress{
		JobID:            jobID,
		TotalBytes:       total,
		TransferredBytes: transferred,
		TotalMiB:         float64(total) / bytesPerMiB,
		TransferredMiB:   float64(transferred) / bytesPerMiB,
		ElapsedSeconds:   elapsed.Seconds(),
	}
	if total > 0 {
		p.Percentage = float64(transferred) / float64(total) * 100
	}
	if elapsed > 0 {
		p.RateBytesPerSec = float64(transferred) / elapsed.Seconds()
	}
	return p
}

// Sink receives snapshots. Send returning false means the snapshot was not delivered, which is ignored.
type Sink interface {
	Send(Progress) bool
}

type SinkFunc func(Progress) bool

func (f SinkFunc) Send(p Progress) bool {
	return f(p)
}

type Reporter struct {
	jobID       string
	sink        Sink
	now         func() time.Time
	minInterval time.Duration
	log         *zap.Logger

	mu          sync.Mutex
	started     time.Time
	total       uint64
	transferred uint64
	lastEmit    time.Time
}

type Option func(*Reporter)

// WithMinInterval throttles Update-triggered emissions; zero emits on every update.
func WithMinInterval(d time.Duration) Option {
	return func(r *Reporter) {
		r.minInterval = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Reporter) {
		r.log = log
	}
}

// New creates a Reporter for one job. sink may be nil, in which case nothing is emitted.
func New(jobID string, sink Sink, opts ...Option) *Reporter {
	r := &Reporter{
		jobID:       jobID,
		sink:        sink,
		now:         time.Now,
		minInterval: DefaultMinInterval,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	return r
}

// Start records the expected size of the transfer and restarts the clock, so the rate always covers the current
// connection. It may be called again when a transfer restarts.
func (r *Reporter) Start(total uint64) {
	r.mu.Lock()
	r.started = r.now()
	r.total = total
	r.transferred = 0
	r.mu.Unlock()
	r.Emit()
}

// Update records the bytes transferred so far and emits if the throttle interval has passed or the transfer is
// complete.
func (r *Reporter) Update(transferred uint64) {
	r.mu.Lock()
	r.transferred = transferred
	now := r.now()
	due := r.lastEmit.IsZero() || now.Sub(r.lastEmit) >= r.minInterval || (r.total > 0 && transferred >= r.total)
	r.mu.Unlock()
	if due {
		r.Emit()
	}
}

func (r *Reporter) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Compute(r.jobID, r.total, r.transferred, r.now().Sub(r.started))
}

// Emit sends the current snapshot to the sink unconditionally.
func (r *Reporter) Emit() {
	p := r.Snapshot()
	r.mu.Lock()
	r.lastEmit = r.now()
	r.mu.Unlock()
	r.deliver(p)
}

func (r *Reporter) deliver(p Progress) {
	if r.sink == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.log.Warn("progress listener panicked", zap.String("job_id", r.jobID), zap.Any("panic", v))
		}
	}()
	if !r.sink.Send(p) {
		r.log.Debug("progress snapshot dropped", zap.String("job_id", r.jobID))
	}
}
