package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/async"
	"github.com/alanbriolat/bili-archiver/download"
	"github.com/alanbriolat/bili-archiver/generic"
	"github.com/alanbriolat/bili-archiver/internal/progress"
	"github.com/alanbriolat/bili-archiver/internal/resolver"
	"github.com/alanbriolat/bili-archiver/internal/segment"
)

// run is the whole pipeline for one video: resolve, wait for a permit, fetch both tracks, mux.
func (d *Download) run(ctx context.Context) error {
	s := d.session
	state := d.State()
	log := d.log()

	d.setStatus(DownloadStatusResolving)
	meta, err := s.resolver.Resolve(ctx, state.VideoID)
	if err != nil {
		return err
	}
	streams, err := s.resolver.FetchStreams(ctx, meta)
	if err != nil {
		return err
	}
	if len(streams.Video) == 0 {
		return fmt.Errorf("%s: %w", meta.ID, bili.ErrNoStreams)
	}
	video, _ := resolver.PickQuality(streams.Video, state.Quality)
	var audio *bili.AudioCandidate
	if len(streams.Audio) > 0 {
		audio = &streams.Audio[0]
	}
	targetPath, err := d.targetPath(meta)
	if err != nil {
		return err
	}
	tiers := make([]int, 0, len(streams.Video))
	for _, q := range streams.Video {
		tiers = append(tiers, q.QualityTier)
	}
	d.updateState(func(ds *DownloadState) {
		ds.Status = DownloadStatusResolved
		ds.VideoID = meta.ID
		ds.Title = meta.Title
		ds.ContentID = meta.ContentID
		ds.AvailableQualities = tiers
		ds.SelectedQuality = video.QualityTier
		ds.Codecs = video.Codecs
		ds.TargetPath = targetPath
	})
	log.Infof("selected %v for %q", video, meta.Title)

	return download.WithDownloadState(func(ws *download.DownloadState) error {
		videoPath := ws.Path("video.m4s")
		audioPath := ""
		if audio != nil {
			audioPath = ws.Path("audio.m4s")
		}

		d.setStatus(DownloadStatusWaiting)
		permit, err := s.gate.Acquire(ctx)
		if err != nil {
			return err
		}
		defer permit.Release()

		d.setStatus(DownloadStatusDownloading)
		if err := d.fetchTracks(ctx, video, audio, videoPath, audioPath); err != nil {
			return err
		}
		permit.Release()

		d.setStatus(DownloadStatusMuxing)
		muxed := ws.Path("muxed" + filepath.Ext(targetPath))
		if err := s.muxer.Mux(ctx, videoPath, audioPath, muxed); err != nil {
			return fmt.Errorf("failed to mux %s: %w", meta.ID, err)
		}
		return ws.Commit(muxed, filepath.Base(targetPath))
	},
		download.WithTempDir(s.config.TempDir),
		download.WithTargetDir(filepath.Dir(targetPath)),
		download.WithLogger(log),
	)
}

func (d *Download) targetPath(meta bili.TrackMetadata) (string, error) {
	cfg := d.session.config.Config
	if savePath := d.State().SavePath; savePath != "" {
		cfg.TargetDir = savePath
	}
	return cfg.TargetPath(meta)
}

// fetchTracks downloads the video and audio tracks concurrently. The first failure cancels the other track.
func (d *Download) fetchTracks(ctx context.Context, video bili.QualityCandidate, audio *bili.AudioCandidate, videoPath, audioPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := 1
	videoCh := d.fetchTrack(ctx, TrackVideo, append([]string{video.StreamURL}, video.BackupURLs...), videoPath)
	var audioCh <-chan generic.Result[generic.Void]
	if audio != nil {
		pending++
		audioCh = d.fetchTrack(ctx, TrackAudio, append([]string{audio.StreamURL}, audio.BackupURLs...), audioPath)
	}

	var result *multierror.Error
	for ; pending > 0; pending-- {
		var r generic.Result[generic.Void]
		select {
		case r = <-videoCh:
			videoCh = nil
		case r = <-audioCh:
			audioCh = nil
		}
		if _, err := r.Parts(); err != nil {
			// The other track's cancellation is a consequence, not a cause
			if result == nil || !errors.Is(err, context.Canceled) {
				result = multierror.Append(result, err)
			}
			cancel()
		}
	}
	return result.ErrorOrNil()
}

// fetchTrack downloads one track in the background, falling back through urls in order while transfers fail.
func (d *Download) fetchTrack(ctx context.Context, track Track, urls []string, dest string) <-chan generic.Result[generic.Void] {
	s := d.session
	jobID := fmt.Sprintf("%s/%s", d.ID(), track)
	log := d.log().With("track", track)
	opts := []progress.Option{progress.WithLogger(log.Desugar())}
	if s.config.ProgressInterval > 0 {
		opts = append(opts, progress.WithMinInterval(s.config.ProgressInterval))
	}
	reporter := progress.New(jobID, progress.SinkFunc(func(p progress.Progress) bool {
		return d.reportProgress(track, p)
	}), opts...)
	job := segment.NewJob(jobID, dest)

	return async.RunResult(func() (generic.Void, error) {
		started := time.Now()
		var err error
		for i, url := range urls {
			if i > 0 {
				log.Warnf("falling back to backup url %d of %d: %v", i, len(urls)-1, err)
			}
			err = s.downloader.Download(ctx, job, url, s.config.CookieHeader, reporter)
			if err == nil || !errors.Is(err, bili.ErrTransferFailed) || ctx.Err() != nil {
				break
			}
		}
		if err != nil {
			return generic.NewVoid(), fmt.Errorf("%s track: %w", track, err)
		}
		reporter.Emit()
		log.Desugar().Info("track complete",
			zap.Uint64("bytes", job.Transferred()),
			zap.Duration("elapsed", time.Since(started)))
		return generic.NewVoid(), nil
	})
}

// finish records how the pipeline ended and wakes anyone in Wait.
func (d *Download) finish(err error) {
	d.mu.Lock()
	stopped := errors.Is(err, context.Canceled) && (d.stopRequested || d.session.ctx.Err() != nil)
	d.cancel = nil
	d.err = err
	d.mu.Unlock()

	d.updateState(func(ds *DownloadState) {
		switch {
		case err == nil:
			ds.Status = DownloadStatusComplete
			ds.Error = ""
			ds.CompletedAt = time.Now()
		case stopped:
			ds.Status = DownloadStatusStopped
			ds.Error = ""
		default:
			ds.Status = DownloadStatusError
			ds.Error = err.Error()
		}
	})
	if err != nil && !stopped {
		d.log().Errorf("download failed: %v", err)
	}
	d.session.events.Send(DownloadStopped{downloadEvent{d}, err})
	d.stopped.Set()
}
