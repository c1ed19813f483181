package session

import (
	"context"

	"github.com/alanbriolat/bili-archiver/internal/pubsub"
)

// Start runs the download pipeline in the background. It does nothing if the pipeline is already running or the
// session is closed.
func (d *Download) Start() {
	d.mu.Lock()
	if d.cancel != nil || d.session.ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(d.session.ctx)
	d.cancel = cancel
	d.stopRequested = false
	d.err = nil
	d.stopped.Clear()
	d.mu.Unlock()

	d.session.running.Add(1)
	d.session.events.Send(DownloadStarted{downloadEvent{d}})
	go func() {
		defer d.session.running.Done()
		defer cancel()
		d.finish(d.run(ctx))
	}()
}

// Stop abandons a running download. Transfers are cancelled and partial data is discarded.
func (d *Download) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.stopRequested = true
		d.cancel()
	}
}

// Wait blocks until the pipeline is not running and returns the error it ended with, if any.
func (d *Download) Wait(ctx context.Context) error {
	if err := d.stopped.WaitContext(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Stopped returns a channel that is closed while no pipeline is running.
func (d *Download) Stopped() <-chan struct{} {
	return d.stopped.Wait()
}

func (d *Download) IsComplete() bool {
	return d.State().Status == DownloadStatusComplete
}

// Subscribe returns a subscription to the session's events concerning only this download.
func (d *Download) Subscribe() (pubsub.ReceiverCloser[Event], error) {
	return pubsub.SubscribeFiltered(d.session.events, pubsub.DefaultSubscriberBufSize, func(e Event) bool {
		return e.Download() == d
	})
}
