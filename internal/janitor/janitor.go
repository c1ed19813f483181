// Package janitor removes per-video temp workspaces left behind by interrupted runs.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
)

const (
	DefaultPattern  = bili.DefaultTempPattern
	DefaultMaxAge   = 24 * time.Hour
	DefaultInterval = 10 * time.Minute
)

// Sweep removes entries of dir matching pattern whose modification time is more than maxAge before now, and returns
// the removed paths. Every candidate is attempted; failures are collected into one error.
func Sweep(dir, pattern string, maxAge time.Duration, now time.Time) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	var removed []string
	var result *multierror.Error
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				result = multierror.Append(result, err)
			}
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, result.ErrorOrNil()
}

type Janitor struct {
	Dir      string
	Pattern  string
	MaxAge   time.Duration
	Interval time.Duration
	Now      func() time.Time
	Log      *zap.SugaredLogger
}

func New(dir string, maxAge time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Janitor{
		Dir:      dir,
		Pattern:  DefaultPattern,
		MaxAge:   maxAge,
		Interval: DefaultInterval,
		Now:      time.Now,
		Log:      zap.S().Named("janitor"),
	}
}

func (j *Janitor) Sweep() ([]string, error) {
	removed, err := Sweep(j.Dir, j.Pattern, j.MaxAge, j.Now())
	for _, path := range removed {
		j.Log.Infof("removed orphaned workspace %s", path)
	}
	if err != nil {
		j.Log.Warnf("sweep of %s incomplete: %v", j.Dir, err)
	}
	return removed, err
}

// Run sweeps immediately and then once per Interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	_, _ = j.Sweep()
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = j.Sweep()
		}
	}
}
