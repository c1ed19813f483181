package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/internal/session"
)

var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "show the title and available qualities of a video",
	ArgsUsage: "VIDEO",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.ShowCommandHelp(c, "info")
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		header, err := cookieHeader(c, cfg)
		if err != nil {
			return err
		}
		sessionConfig := session.DefaultConfig()
		sessionConfig.Config = cfg
		sessionConfig.CookieHeader = header
		sessionConfig.Logger = bili.Logger(c.Context)
		ses, err := session.New(c.Context, sessionConfig)
		if err != nil {
			return err
		}
		defer ses.Close()

		info, err := ses.Inspect(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s] (cid %d, %ds)\n\n", info.Meta.Title, info.Meta.ID, info.Meta.ContentID, info.Meta.Duration)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QN\tQUALITY\tCODECS\tRESOLUTION\tBITRATE\tEST. SIZE")
		for _, q := range info.Streams.Video {
			fmt.Fprintf(w, "%d\t%s\t%s\t%dx%d\t%s/s\t%s\n",
				q.QualityTier, bili.QualityLabels[q.QualityTier], q.Codecs, q.Width, q.Height,
				humanize.SI(float64(q.Bandwidth), "bit"), estimateSize(q.Bandwidth, info.Meta.Duration))
		}
		for _, a := range info.Streams.Audio {
			fmt.Fprintf(w, "%d\taudio\t%s\t\t%s/s\t%s\n",
				a.ID, a.Codecs, humanize.SI(float64(a.Bandwidth), "bit"), estimateSize(a.Bandwidth, info.Meta.Duration))
		}
		return w.Flush()
	},
}

// estimateSize approximates a track's size from its bitrate in bits per second.
func estimateSize(bandwidth int64, seconds int64) string {
	if bandwidth <= 0 || seconds <= 0 {
		return "?"
	}
	return humanize.IBytes(uint64(bandwidth * seconds / 8))
}
