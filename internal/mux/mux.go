// Package mux combines a downloaded video track and audio track into one container.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, dest string) error
}

// FFmpeg muxes by stream copy with an external ffmpeg binary. Path defaults to "ffmpeg" on $PATH.
type FFmpeg struct {
	Path string
	Log  *zap.Logger
}

var _ Muxer = (*FFmpeg)(nil)

// Args returns the ffmpeg arguments for a stream-copy mux. An empty audioPath produces a video-only remux.
func Args(videoPath, audioPath, dest string) []string {
	args := []string{"-y", "-loglevel", "error", "-i", videoPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	return append(args, "-c", "copy", dest)
}

func (m *FFmpeg) Mux(ctx context.Context, videoPath, audioPath, dest string) error {
	path := m.Path
	if path == "" {
		path = "ffmpeg"
	}
	args := Args(videoPath, audioPath, dest)
	if m.Log != nil {
		m.Log.Debug("running ffmpeg", zap.String("path", path), zap.Strings("args", args))
	}
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
