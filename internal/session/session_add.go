package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/internal/resolver"
)

type AddDownloadOptions struct {
	// Override the target directory; if empty, the configured TargetDir is used.
	SavePath string
	// Requested quality tier; 0 selects the best available.
	Quality int
	// Match only with the named provider instead of trying all of them.
	Provider string
}

func (s *Session) match(input string, provider string) (*bili.Match, error) {
	if provider != "" {
		m, err := s.config.ProviderRegistry.MatchWith(provider, input)
		if errors.Is(err, bili.ErrUnknownProvider) {
			return nil, fmt.Errorf("%w %q (available: %s)",
				err, provider, strings.Join(s.config.ProviderRegistry.List(), ", "))
		}
		return m, err
	}
	return s.config.ProviderRegistry.Match(input)
}

// AddDownload registers a new download for input, which must be recognised by a provider. The download is not
// started.
func (s *Session) AddDownload(input string, opt *AddDownloadOptions) (*Download, error) {
	if opt == nil {
		opt = &AddDownloadOptions{}
	}
	match, err := s.match(input, opt.Provider)
	if err != nil {
		return nil, err
	}
	ds := DownloadState{}
	ds.ID = NewDownloadID()
	ds.Input = input
	ds.Provider = match.ProviderName
	ds.VideoID = match.ID
	ds.Quality = opt.Quality
	ds.SavePath = opt.SavePath
	ds.Status = DownloadStatusNew
	ds.AddedAt = time.Now()
	d, err := s.insertDownload(ds)
	if err != nil {
		return nil, err
	}
	d.persist()
	return d, nil
}

func (s *Session) insertDownload(ds DownloadState) (*Download, error) {
	id := ds.ID
	d := newDownload(s, ds)
	err := s.downloads.Locked(func(downloads downloadsByID) error {
		if _, ok := downloads[id]; ok {
			return errors.New("duplicate download ID")
		}
		downloads[id] = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debugf("download added: %v", d)
	s.events.Send(DownloadAdded{downloadEvent{d}})
	return d, nil
}

// RemoveDownload stops the download if it is running and forgets it, including its stored history.
func (s *Session) RemoveDownload(ctx context.Context, id DownloadID) error {
	d := s.GetDownload(id)
	if d == nil {
		return errors.New("unknown download ID")
	}
	d.Stop()
	if err := d.stopped.WaitContext(ctx); err != nil {
		return err
	}
	_ = s.downloads.Locked(func(downloads downloadsByID) error {
		delete(downloads, id)
		return nil
	})
	state := d.State()
	if err := s.config.Database.DeleteDownload(&state.DownloadPersistentState); err != nil {
		return err
	}
	s.events.Send(DownloadRemoved{downloadEvent{d}})
	return nil
}

// VideoInfo describes what a download of the input would fetch.
type VideoInfo struct {
	Match   bili.Match
	Meta    bili.TrackMetadata
	Streams *resolver.Streams
}

// Inspect resolves input without downloading anything.
func (s *Session) Inspect(ctx context.Context, input string) (*VideoInfo, error) {
	match, err := s.match(input, "")
	if err != nil {
		return nil, err
	}
	meta, err := s.resolver.Resolve(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	streams, err := s.resolver.FetchStreams(ctx, meta)
	if err != nil {
		return nil, err
	}
	return &VideoInfo{Match: *match, Meta: meta, Streams: streams}, nil
}
