package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/internal/bapi"
	"github.com/alanbriolat/bili-archiver/internal/gate"
	"github.com/alanbriolat/bili-archiver/internal/mux"
	"github.com/alanbriolat/bili-archiver/internal/pubsub"
	"github.com/alanbriolat/bili-archiver/internal/resolver"
	"github.com/alanbriolat/bili-archiver/internal/segment"
	"github.com/alanbriolat/bili-archiver/internal/sync_"
	"github.com/alanbriolat/bili-archiver/internal/wbi"
)

type Config struct {
	bili.Config

	// Cookie header sent to the API and the CDN; empty for anonymous access.
	CookieHeader     string
	Database         Database
	ProviderRegistry *bili.ProviderRegistry
	// Muxer defaults to ffmpeg at Config.FFmpegPath.
	Muxer mux.Muxer
	// Logger defaults to the one carried by the session's context.
	Logger *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Config:           bili.DefaultConfig(),
		Database:         NilDatabase{},
		ProviderRegistry: &bili.DefaultProviderRegistry,
	}
}

type downloadsByID = map[DownloadID]*Download

// A Session owns everything shared between downloads: the API client and signing key, the gate limiting concurrent
// transfers, and the event stream.
type Session struct {
	config    Config
	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger

	api        *bapi.Client
	resolver   *resolver.Resolver
	gate       *gate.Gate
	downloader *segment.Downloader
	muxer      mux.Muxer

	downloads *sync_.RWMutexed[downloadsByID]
	events    pubsub.Publisher[Event]
	running   sync.WaitGroup
}

func New(ctx context.Context, config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Database == nil {
		config.Database = NilDatabase{}
	}
	if config.ProviderRegistry == nil {
		config.ProviderRegistry = &bili.DefaultProviderRegistry
	}
	logger := config.Logger
	if logger == nil {
		logger = bili.Logger(ctx)
	}
	muxer := config.Muxer
	if muxer == nil {
		muxer = &mux.FFmpeg{Path: config.FFmpegPath, Log: logger.Named("mux")}
	}

	api := bapi.New(config.Config, config.CookieHeader, logger.Named("bapi"))
	signer := wbi.NewSigner(api, wbi.WithLogger(logger.Named("wbi")))
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		config:    config,
		ctx:       ctx,
		ctxCancel: cancel,
		log:       logger.Sugar().Named("session"),

		api:        api,
		resolver:   resolver.New(api, signer, logger.Named("resolver")),
		gate:       gate.New(config.MaxConcurrentVideoJobs),
		downloader: segment.New(segment.ConfigFrom(config.Config), logger.Named("segment")),
		muxer:      muxer,

		downloads: sync_.NewRWMutexed(make(downloadsByID)),
		events:    pubsub.NewPublisher[Event](),
	}

	states, err := config.Database.ListDownloads()
	if err != nil {
		cancel()
		s.events.Close()
		return nil, err
	}
	for _, state := range states {
		state.Status = state.Status.NonRunning()
		if _, err := s.insertDownload(DownloadState{DownloadPersistentState: state}); err != nil {
			s.log.Warnf("skipping stored download %s: %v", state.ID, err)
		}
	}
	return s, nil
}

func (s *Session) Subscribe() (pubsub.ReceiverCloser[Event], error) {
	return s.events.Subscribe()
}

func (s *Session) ListDownloads() []*Download {
	var list []*Download
	_ = s.downloads.RLocked(func(downloads downloadsByID) error {
		list = make([]*Download, 0, len(downloads))
		for _, d := range downloads {
			list = append(list, d)
		}
		return nil
	})
	return list
}

func (s *Session) GetDownload(id DownloadID) (d *Download) {
	_ = s.downloads.RLocked(func(downloads downloadsByID) error {
		d = downloads[id]
		return nil
	})
	return d
}

// Close abandons all running downloads, waits for their pipelines to end, and closes every subscription.
func (s *Session) Close() {
	s.ctxCancel()
	s.running.Wait()
	s.events.Close()
}
