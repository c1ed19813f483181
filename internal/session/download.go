package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/generic"
	"github.com/alanbriolat/bili-archiver/internal/progress"
	"github.com/alanbriolat/bili-archiver/internal/sync_"
)

type DownloadID string

func NewDownloadID() DownloadID {
	return DownloadID(generic.Unwrap(uuid.NewRandom()).String())
}

type DownloadStatus string

const (
	DownloadStatusUndefined   DownloadStatus = ""
	DownloadStatusNew         DownloadStatus = "new"
	DownloadStatusResolving   DownloadStatus = "resolving"
	DownloadStatusResolved    DownloadStatus = "resolved"
	DownloadStatusWaiting     DownloadStatus = "waiting"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusMuxing      DownloadStatus = "muxing"
	DownloadStatusComplete    DownloadStatus = "complete"
	DownloadStatusStopped     DownloadStatus = "stopped"
	DownloadStatusError       DownloadStatus = "error"
)

var runningStatuses = generic.NewSet(
	DownloadStatusResolving,
	DownloadStatusResolved,
	DownloadStatusWaiting,
	DownloadStatusDownloading,
	DownloadStatusMuxing,
)

// IsRunning returns true if the status is one where the pipeline should be updating the download.
func (s DownloadStatus) IsRunning() bool {
	return runningStatuses.Contains(s)
}

// NonRunning returns the status to use for a download whose pipeline is gone, e.g. one reloaded after a crash. A
// pipeline always restarts from the beginning, so every running status maps back to "new".
func (s DownloadStatus) NonRunning() DownloadStatus {
	if s.IsRunning() {
		return DownloadStatusNew
	}
	return s
}

type Track string

const (
	TrackVideo Track = "video"
	TrackAudio Track = "audio"
)

// DownloadPersistentState is the part of a download's state kept in the Database.
type DownloadPersistentState struct {
	ID       DownloadID
	Input    string
	Provider string
	VideoID  bili.VideoID
	// Requested quality tier, 0 for the best available.
	Quality int
	// Override of the configured target directory.
	SavePath string
	AddedAt  time.Time
	Status   DownloadStatus
	Error    string

	// Data from the "resolve" stage
	Title              string
	ContentID          int64
	AvailableQualities []int
	SelectedQuality    int
	Codecs             string
	TargetPath         string

	CompletedAt time.Time
}

type DownloadEphemeralState struct {
	VideoProgress progress.Progress
	AudioProgress progress.Progress
}

type DownloadState struct {
	DownloadPersistentState
	DownloadEphemeralState
}

type Download struct {
	session *Session

	mu            sync.Mutex
	state         DownloadState
	cancel        context.CancelFunc
	stopRequested bool
	err           error

	// Set whenever no pipeline is running.
	stopped sync_.Event
}

func newDownload(session *Session, state DownloadState) *Download {
	d := &Download{
		session: session,
		state:   state,
	}
	d.stopped.Set()
	return d
}

func (d *Download) ID() DownloadID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.ID
}

func (d *Download) String() string {
	state := d.State()
	return fmt.Sprintf("Download{ID:%q, Input:%q, Status:%q}", state.ID, state.Input, state.Status)
}

func (d *Download) log() *zap.SugaredLogger {
	return d.session.log.Named("download").With("download_id", d.ID())
}

func (d *Download) State() DownloadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// updateState applies f, persists the result, and announces the change.
func (d *Download) updateState(f func(ds *DownloadState)) {
	d.mu.Lock()
	old := d.state
	f(&d.state)
	updated := d.state
	d.mu.Unlock()

	d.persist()
	d.session.events.Send(DownloadUpdated{downloadEvent{d}, old, updated})
}

func (d *Download) setStatus(status DownloadStatus) {
	d.updateState(func(ds *DownloadState) {
		ds.Status = status
	})
}

// reportProgress records the latest snapshot for a track and offers it to subscribers without blocking.
func (d *Download) reportProgress(track Track, p progress.Progress) bool {
	d.mu.Lock()
	switch track {
	case TrackVideo:
		d.state.VideoProgress = p
	case TrackAudio:
		d.state.AudioProgress = p
	}
	d.mu.Unlock()
	return d.session.events.TrySend(DownloadProgress{downloadEvent{d}, track, p})
}

func (d *Download) persist() {
	state := d.State()
	if err := d.session.config.Database.WriteDownload(&state.DownloadPersistentState); err != nil {
		d.log().Warnf("failed to persist download: %v", err)
	}
}
