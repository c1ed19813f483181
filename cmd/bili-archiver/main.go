package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/async"
	"github.com/alanbriolat/bili-archiver/internal/cookie"
	_ "github.com/alanbriolat/bili-archiver/providers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "bili-archiver",
		Usage: "archive videos from bilibili",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "load configuration from `FILE` (default: ./bili-archiver.yaml if present)",
			},
			&cli.StringFlag{
				Name:  "cookies",
				Usage: "authenticate with cookies from a Netscape cookies.txt `FILE`",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "console",
				Usage: "log as `FORMAT` (console or json)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			logger, err := newLogger(c.String("log-format"), c.Bool("debug"))
			if err != nil {
				log.Fatalf("can't initialize zap logger: %v", err)
			}
			zap.RedirectStdLog(logger)
			zap.ReplaceGlobals(logger)
			c.Context = bili.WithLogger(c.Context, logger)
			return nil
		},
		After: func(c *cli.Context) error {
			_ = zap.L().Sync()
			return nil
		},
		Commands: []*cli.Command{
			downloadCommand,
			infoCommand,
			sweepCommand,
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.RunContext(ctx, os.Args) })

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		// Let the running command observe cancellation and clean up
		stop()
		err = <-result
	}
	if err != nil {
		zap.L().Fatal(err.Error())
	}
}

func newLogger(format string, debug bool) (*zap.Logger, error) {
	var config zap.Config
	switch format {
	case "console":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	case "json":
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return config.Build()
}

func loadConfig(c *cli.Context) (bili.Config, error) {
	return bili.LoadConfig(c.String("config"))
}

// cookieHeader reads the --cookies file, if given, into the header sent to the platform.
func cookieHeader(c *cli.Context, cfg bili.Config) (string, error) {
	path := c.String("cookies")
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	entries, err := cookie.ParseNetscape(f)
	if err != nil {
		return "", err
	}
	header := cookie.Header(entries, cfg.CookieDomain)
	if header == "" {
		zap.S().Warnf("no cookies for %s in %s, continuing without login", cfg.CookieDomain, path)
	}
	return header, nil
}
