package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"frontpage/internal/fetcher"
	"frontpage/internal/opml"
	"frontpage/migrations"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Run database migrations",
		ArgsUsage: "<up|up-one|down|status|version|reset>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the sqlite database",
				EnvVars: []string{"DATABASE_PATH"},
				Value:   "./data/frontpage.db",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			db, err := sql.Open("sqlite", c.String("db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()
			return migrations.Command(db, c.Args().First())
		},
	}
}

func fetchCmd() *cli.Command {
	def := fetcher.DefaultConfig()
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a single feed and print it as normalized JSON",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Usage: "feed download timeout", Value: def.Timeout},
			&cli.DurationFlag{Name: "image-timeout", Usage: "og:image lookup timeout per item", Value: def.ImageTimeout},
			&cli.BoolFlag{Name: "no-images", Usage: "skip og:image page lookups"},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "warn"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			cfg := def
			cfg.Timeout = c.Duration("timeout")
			cfg.ImageTimeout = c.Duration("image-timeout")
			cfg.ScrapeImages = !c.Bool("no-images")

			f := fetcher.New(&http.Client{}, cfg, newLogger(c.String("log-level")))
			feed, err := f.Fetch(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, feed)
		},
	}
}

func opmlCmd() *cli.Command {
	return &cli.Command{
		Name:  "opml",
		Usage: "OPML utilities",
		Subcommands: []*cli.Command{
			{
				Name:      "parse",
				Usage:     "Print the feed descriptors found in an OPML file ('-' reads stdin)",
				ArgsUsage: "<file>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.ShowSubcommandHelp(c)
					}
					src, err := readInput(c.Args().First())
					if err != nil {
						return err
					}
					feeds := opml.Parse(string(src))
					if len(feeds) == 0 {
						return fmt.Errorf("no feeds found in %s", c.Args().First())
					}
					return printJSON(c.App.Writer, feeds)
				},
			},
		},
	}
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
