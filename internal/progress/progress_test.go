package progress

import (
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestCompute(t *testing.T) {
	assert := assert_.New(t)

	p := Compute("job", 4<<20, 1<<20, 2*time.Second)
	assert.Equal("job", p.JobID)
	assert.Equal(4.0, p.TotalMiB)
	assert.Equal(1.0, p.TransferredMiB)
	assert.Equal(25.0, p.Percentage)
	assert.Equal(float64(1<<19), p.RateBytesPerSec)
	assert.Equal(2.0, p.ElapsedSeconds)

	zeroTotal := Compute("job", 0, 100, time.Second)
	assert.Equal(0.0, zeroTotal.Percentage)

	zeroElapsed := Compute("job", 100, 50, 0)
	assert.Equal(0.0, zeroElapsed.RateBytesPerSec)
	assert.Equal(50.0, zeroElapsed.Percentage)
}

func TestReporter_Throttle(t *testing.T) {
	assert := assert_.New(t)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var received []Progress
	r := New("job", SinkFunc(func(p Progress) bool {
		received = append(received, p)
		return true
	}), WithClock(clock.Now), WithMinInterval(time.Second))

	r.Start(100)
	assert.Len(received, 1)

	clock.Advance(100 * time.Millisecond)
	r.Update(10) // throttled
	assert.Len(received, 1)

	clock.Advance(time.Second)
	r.Update(50)
	assert.Len(received, 2)
	assert.Equal(50.0, received[1].Percentage)

	r.Update(100) // completion always emits
	assert.Len(received, 3)
	assert.Equal(100.0, received[2].Percentage)
	assert.InDelta(100/1.1, received[2].RateBytesPerSec, 0.001)
}

func TestReporter_RestartResetsRate(t *testing.T) {
	assert := assert_.New(t)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	r := New("job", nil, WithClock(clock.Now))

	r.Start(10 << 20)
	clock.Advance(10 * time.Second)
	r.Update(1 << 20)
	assert.InDelta(float64(1<<20)/10, r.Snapshot().RateBytesPerSec, 0.001)

	// A reconnect starts over on a faster connection
	r.Start(10 << 20)
	clock.Advance(time.Second)
	r.Update(10 << 20)
	p := r.Snapshot()
	assert.Equal(100.0, p.Percentage)
	assert.Equal(1.0, p.ElapsedSeconds)
	assert.InDelta(float64(10<<20), p.RateBytesPerSec, 0.001)
}

func TestReporter_SinkFailuresSwallowed(t *testing.T) {
	assert := assert_.New(t)

	refusing := New("job", SinkFunc(func(Progress) bool { return false }), WithMinInterval(0))
	assert.NotPanics(func() {
		refusing.Start(10)
		refusing.Update(5)
	})

	panicking := New("job", SinkFunc(func(Progress) bool { panic("listener gone") }), WithMinInterval(0))
	assert.NotPanics(func() {
		panicking.Start(10)
		panicking.Update(5)
		panicking.Emit()
	})
	assert.Equal(50.0, panicking.Snapshot().Percentage)

	silent := New("job", nil)
	assert.NotPanics(func() { silent.Update(1) })
}
