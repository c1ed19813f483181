package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/generic"
	"github.com/alanbriolat/bili-archiver/internal/boltdb"
	"github.com/alanbriolat/bili-archiver/internal/janitor"
	"github.com/alanbriolat/bili-archiver/internal/progress"
	"github.com/alanbriolat/bili-archiver/internal/session"
)

var downloadCommand = &cli.Command{
	Name:      "download",
	Usage:     "download videos",
	ArgsUsage: "VIDEO...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "target",
			Usage: "save downloaded videos to `DIR` (overrides target_dir)",
		},
		&cli.IntFlag{
			Name:  "quality",
			Usage: "download quality tier `QN` or the next best below it (default: best available)",
		},
		&cli.StringFlag{
			Name:  "provider",
			Usage: "match inputs only with `NAME` (one of: " + strings.Join(bili.DefaultProviderRegistry.List(), ", ") + ")",
		},
		&cli.StringFlag{
			Name:  "history",
			Usage: "record downloads in the bolt database at `FILE`",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.ShowCommandHelp(c, "download")
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if target := c.String("target"); target != "" {
			cfg.TargetDir = target
		}
		header, err := cookieHeader(c, cfg)
		if err != nil {
			return err
		}

		logger := bili.Logger(c.Context)
		// Reclaim workspaces from earlier runs that were killed
		sweeper := janitor.New(cfg.TempDir, cfg.OrphanMaxAge)
		_, _ = sweeper.Sweep()

		sessionConfig := session.DefaultConfig()
		sessionConfig.Config = cfg
		sessionConfig.CookieHeader = header
		sessionConfig.Logger = logger
		if path := c.String("history"); path != "" {
			db, err := boltdb.New(path)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer db.Close()
			sessionConfig.Database = db
		}
		ses, err := session.New(c.Context, sessionConfig)
		if err != nil {
			return err
		}
		defer ses.Close()

		opts := &session.AddDownloadOptions{
			Quality:  c.Int("quality"),
			Provider: c.String("provider"),
		}
		var downloads []*session.Download
		for _, input := range c.Args().Slice() {
			d, err := ses.AddDownload(input, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
			downloads = append(downloads, d)
		}
		return runDownloads(c, ses, downloads)
	},
}

func runDownloads(c *cli.Context, ses *session.Session, downloads []*session.Download) error {
	logger := zap.S()
	events, err := ses.Subscribe()
	if err != nil {
		return err
	}
	bars := newProgressBars()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range events.Receive() {
			switch e := event.(type) {
			case session.DownloadUpdated:
				logStateChanges(logger, e)
			case session.DownloadProgress:
				bars.update(e.Download().ID(), e.Track, e.Progress)
			case session.DownloadStopped:
				bars.finish(e.Download().ID())
			}
		}
	}()

	for _, d := range downloads {
		d.Start()
	}
	var failed int
	for _, d := range downloads {
		err := d.Wait(c.Context)
		state := d.State()
		switch {
		case err == nil:
			logger.Infof("saved %s (%s)", state.TargetPath, state.Codecs)
		case c.Context.Err() != nil:
			logger.Infof("Exiting gracefully...")
			failed = len(downloads)
		default:
			failed++
			logger.Errorf("%s: %v", state.Input, err)
		}
		if c.Context.Err() != nil {
			break
		}
	}

	ses.Close()
	wg.Wait()
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads did not complete", failed, len(downloads))
	}
	return nil
}

func logStateChanges(logger *zap.SugaredLogger, e session.DownloadUpdated) {
	if e.OldState.Status != e.NewState.Status {
		logger.Infof("%s: %s", e.NewState.VideoID, e.NewState.Status)
	}
	changes, err := diff.Diff(e.OldState.DownloadPersistentState, e.NewState.DownloadPersistentState)
	if err != nil {
		logger.Errorf("failed to diff old and new download state: %v", err)
		return
	}
	for _, change := range changes {
		logger.Debugf("%s: %v: %#v -> %#v", e.NewState.ID, change.Path, change.From, change.To)
	}
}

type barKey struct {
	id    session.DownloadID
	track session.Track
}

// progressBars draws one terminal bar per track.
type progressBars struct {
	mu   sync.Mutex
	bars map[barKey]*trackBar
}

type trackBar struct {
	*progressbar.ProgressBar
	total uint64
}

func newProgressBars() *progressBars {
	return &progressBars{bars: make(map[barKey]*trackBar)}
}

func (b *progressBars) update(id session.DownloadID, track session.Track, p progress.Progress) {
	if p.TotalBytes == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := barKey{id, track}
	bar, ok := b.bars[key]
	if !ok {
		bar = &trackBar{
			ProgressBar: progressbar.DefaultBytes(int64(p.TotalBytes), fmt.Sprintf("%s %s", id[:8], track)),
			total:       p.TotalBytes,
		}
		b.bars[key] = bar
	}
	if bar.total != p.TotalBytes {
		bar.ChangeMax64(int64(p.TotalBytes))
		bar.total = p.TotalBytes
	}
	generic.Unwrap_(bar.Set64(int64(p.TransferredBytes)))
	if p.TransferredBytes == p.TotalBytes {
		zap.S().Debugf("%s %s: %s at %s/s", id, track,
			humanize.IBytes(p.TotalBytes), humanize.IBytes(uint64(p.RateBytesPerSec)))
	}
}

func (b *progressBars) finish(id session.DownloadID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, bar := range b.bars {
		if key.id == id {
			_ = bar.Finish()
			delete(b.bars, key)
		}
	}
}
