package main

import (
	"github.com/dustin/go-humanize/english"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/bili-archiver/internal/janitor"
)

var sweepCommand = &cli.Command{
	Name:  "sweep",
	Usage: "remove temporary workspaces left behind by interrupted downloads",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "max-age",
			Usage: "only remove workspaces older than `AGE` (default: orphan_max_age)",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "keep sweeping periodically until interrupted",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		maxAge := cfg.OrphanMaxAge
		if c.IsSet("max-age") {
			maxAge = c.Duration("max-age")
		}
		j := janitor.New(cfg.TempDir, maxAge)
		zap.S().Infof("sweeping %s for workspaces older than %s", cfg.TempDir, maxAge)
		if c.Bool("watch") {
			j.Run(c.Context)
			return nil
		}
		removed, err := j.Sweep()
		zap.S().Infof("removed %s", english.Plural(len(removed), "workspace", ""))
		return err
	},
}
