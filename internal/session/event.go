package session

import "github.com/alanbriolat/bili-archiver/internal/progress"

type Event interface {
	// The Download this event relates to.
	Download() *Download
}

type downloadEvent struct {
	download *Download
}

func (e downloadEvent) Download() *Download {
	return e.download
}

type DownloadAdded struct {
	downloadEvent
}
type DownloadRemoved struct {
	downloadEvent
}
type DownloadStarted struct {
	downloadEvent
}

// DownloadStopped is sent when the pipeline ends; Err is nil on success.
type DownloadStopped struct {
	downloadEvent
	Err error
}
type DownloadUpdated struct {
	downloadEvent
	OldState DownloadState
	NewState DownloadState
}

// DownloadProgress is best-effort: it is dropped rather than delaying the transfer when subscribers fall behind.
type DownloadProgress struct {
	downloadEvent
	Track    Track
	Progress progress.Progress
}
