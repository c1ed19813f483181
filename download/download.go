// Package download manages the scratch space for a single video: a private temp directory holding the elementary
// tracks until they are muxed into the target directory.
package download

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
)

type downloadConfig struct {
	baseTargetDir string
	baseTempDir   string
	tempPattern   string
	log           *zap.SugaredLogger
}

type DownloadConfigOption func(*downloadConfig)

func WithTargetDir(dir string) DownloadConfigOption {
	return func(c *downloadConfig) {
		c.baseTargetDir = dir
	}
}

// WithTempDir sets the parent of the workspace directory; empty means os.TempDir().
func WithTempDir(dir string) DownloadConfigOption {
	return func(c *downloadConfig) {
		if dir != "" {
			c.baseTempDir = dir
		}
	}
}

func WithLogger(log *zap.SugaredLogger) DownloadConfigOption {
	return func(c *downloadConfig) {
		c.log = log
	}
}

type DownloadState struct {
	config  downloadConfig
	tempDir string
}

func newDownloadState(config downloadConfig) (*DownloadState, error) {
	if len(config.baseTargetDir) > 0 {
		if err := os.MkdirAll(config.baseTargetDir, 0755); err != nil {
			return nil, err
		}
	}
	tempDir, err := os.MkdirTemp(config.baseTempDir, config.tempPattern)
	if err != nil {
		return nil, err
	}
	config.log.Debugf("created workspace %s", tempDir)
	return &DownloadState{
		config:  config,
		tempDir: tempDir,
	}, nil
}

func (s *DownloadState) close() {
	if err := os.RemoveAll(s.tempDir); err != nil {
		s.config.log.Warnf("failed to clean up workspace %s: %v", s.tempDir, err)
	}
}

// Path returns the location of name inside the workspace.
func (s *DownloadState) Path(name string) string {
	return filepath.Join(s.tempDir, name)
}

// TargetPath resolves name against the target directory, unless it is already absolute.
func (s *DownloadState) TargetPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.config.baseTargetDir, name)
}

// Commit moves a finished file out of the workspace to TargetPath(name), copying when a rename is not possible
// (e.g. the temp dir is on another filesystem).
func (s *DownloadState) Commit(src, name string) error {
	dest := s.TargetPath(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("failed to copy %s to %s: %w", src, dest, err)
	}
	return out.Close()
}

// WithDownloadState runs f with a fresh workspace and removes the workspace when f returns. A workspace abandoned by
// a killed process is left for the orphan sweep.
func WithDownloadState(f func(state *DownloadState) error, opts ...DownloadConfigOption) error {
	config := downloadConfig{
		baseTargetDir: "",
		baseTempDir:   os.TempDir(),
		tempPattern:   bili.DefaultTempPattern,
		log:           zap.S().Named("download"),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if state, err := newDownloadState(config); err != nil {
		return err
	} else {
		defer state.close()
		return f(state)
	}
}
