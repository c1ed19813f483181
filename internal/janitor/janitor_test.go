package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func makeEntry(t *testing.T, dir, name string, age time.Duration, now time.Time) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "video.m4s"), []byte("x"), 0644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestSweep(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	now := time.Now()
	old := makeEntry(t, dir, "bili-archiver-123", 48*time.Hour, now)
	fresh := makeEntry(t, dir, "bili-archiver-456", time.Minute, now)
	unrelated := makeEntry(t, dir, "something-else", 48*time.Hour, now)

	removed, err := Sweep(dir, DefaultPattern, DefaultMaxAge, now)
	require.NoError(t, err)
	assert.Equal([]string{old}, removed)
	assert.NoDirExists(old)
	assert.DirExists(fresh)
	assert.DirExists(unrelated)
}

func TestSweep_BadPattern(t *testing.T) {
	_, err := Sweep(t.TempDir(), "[", time.Hour, time.Now())
	assert_.Error(t, err)
}

func TestJanitor_Run(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := makeEntry(t, dir, "bili-archiver-1", 48*time.Hour, now)

	j := New(dir, 0)
	j.Log = zap.NewNop().Sugar()
	j.Interval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	assert_.Eventually(t, func() bool {
		_, err := os.Stat(old)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
