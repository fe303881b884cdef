package cmd

import (
	"context"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hearth/archive"
	"github.com/pithecene-io/hearth/cli/render"
	"github.com/pithecene-io/hearth/config"
)

// HistoryRow is one archived exit.
type HistoryRow struct {
	At        time.Time `json:"at" yaml:"at"`
	Session   string    `json:"session" yaml:"session"`
	Source    string    `json:"source" yaml:"source"`
	Name      string    `json:"name" yaml:"name"`
	Pid       int       `json:"pid" yaml:"pid"`
	ExitCode  int       `json:"exit_code" yaml:"exit_code"`
	Essential bool      `json:"essential" yaml:"essential"`
}

// HistoryCommand returns the history command, which lists exits recorded
// by `hearth run` when an archive is configured.
func HistoryCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.StringFlag{
			Name:    "archive-dir",
			Usage:   "Archive directory on the local filesystem",
			EnvVars: []string{"HEARTH_ARCHIVE_DIR"},
		},
		&cli.StringFlag{
			Name:    "s3",
			Usage:   "Archive location as bucket[/prefix]",
			EnvVars: []string{"HEARTH_ARCHIVE_S3_PATH"},
		},
		&cli.StringFlag{Name: "s3-region", Usage: "AWS region", EnvVars: []string{"HEARTH_ARCHIVE_S3_REGION"}},
		&cli.StringFlag{Name: "s3-endpoint", Usage: "S3-compatible endpoint URL", EnvVars: []string{"HEARTH_ARCHIVE_S3_ENDPOINT"}},
		&cli.BoolFlag{Name: "s3-path-style", Usage: "Use path-style S3 addressing"},
		&cli.StringFlag{Name: "session", Usage: "Only exits from this supervisor session"},
		&cli.StringFlag{Name: "source", Usage: "Only exits from this source (platform, user, foreground)"},
		&cli.StringFlag{Name: "name", Usage: "Only exits of this process"},
		&cli.StringFlag{Name: "day", Usage: "Only exits on this UTC day (YYYY-MM-DD)"},
		&cli.BoolFlag{Name: "essential", Usage: "Only essential losses"},
	)
	return &cli.Command{
		Name:   "history",
		Usage:  "List archived process exits",
		Flags:  flags,
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	if err := rejectTUI(c, "history"); err != nil {
		return err
	}
	cfg := config.ArchiveConfig{
		Dir:         c.String("archive-dir"),
		S3Path:      c.String("s3"),
		S3Region:    c.String("s3-region"),
		S3Endpoint:  c.String("s3-endpoint"),
		S3PathStyle: c.Bool("s3-path-style"),
	}
	if !cfg.Enabled() {
		return cli.Exit("one of --archive-dir or --s3 is required", 1)
	}
	ds, err := openArchive(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	rows, err := history(c.Context, ds, archive.Filter{
		Session:       c.String("session"),
		Source:        c.String("source"),
		Name:          c.String("name"),
		Day:           c.String("day"),
		EssentialOnly: c.Bool("essential"),
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(rows)
}

func history(ctx context.Context, ds lode.Dataset, f archive.Filter) ([]HistoryRow, error) {
	entries, err := archive.Query(ctx, ds, f)
	if err != nil {
		return nil, err
	}
	rows := make([]HistoryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, HistoryRow{
			At:        e.At,
			Session:   e.Session,
			Source:    e.Source,
			Name:      e.Name,
			Pid:       e.Pid,
			ExitCode:  e.ExitCode,
			Essential: e.Essential,
		})
	}
	return rows, nil
}

// openArchive opens the exit-history dataset named by cfg.
func openArchive(ctx context.Context, cfg config.ArchiveConfig) (lode.Dataset, error) {
	if cfg.S3Path != "" {
		bucket, prefix := archive.ParseS3Path(cfg.S3Path)
		return archive.NewS3Dataset(ctx, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	}
	return archive.NewFSDataset(cfg.Dir)
}
