// trustctl inspects stored trust scores and replays update events through an
// in-process pipeline.
//
// Usage:
//
//	trustctl score --type nft --id 0xabc
//	trustctl history --type creator --id alice
//	trustctl put-data --type nft --id 0xabc --file raw.json
//	trustctl replay --file events.jsonl
//	trustctl dead-letters --limit 20
//	trustctl leaderboard --type collection --order bottom --limit 10
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/config"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/database"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/leaderboard"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/trust"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "trustctl",
		Usage:   "Inspect and replay NFT trust scores",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   "./data",
				Usage:   "Directory holding the SQLite database",
				EnvVars: []string{"DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "profile-dir",
				Value:   "./data/profiles",
				Usage:   "Directory holding per-entity-type scoring profiles",
				EnvVars: []string{"PROFILE_DIR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			scoreCommand(),
			historyCommand(),
			putDataCommand(),
			replayCommand(),
			deadLettersCommand(),
			leaderboardCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func entityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "type",
			Aliases:  []string{"t"},
			Usage:    "Entity type (nft, creator, collection)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "id",
			Usage:    "Entity id",
			Required: true,
		},
	}
}

func entityArgs(c *cli.Context) (types.EntityType, string, error) {
	entityType := types.EntityType(c.String("type"))
	if !entityType.Valid() {
		return "", "", fmt.Errorf("unknown entity type %q", entityType)
	}
	return entityType, c.String("id"), nil
}

// withService opens the store, builds the pipeline and closes both after fn
func withService(c *cli.Context, fn func(ctx context.Context, svc *trust.Service) error) error {
	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.DataDir = c.String("data-dir")
	cfg.ProfileDir = c.String("profile-dir")
	cfg.LogLevel = c.String("log-level")

	logger := monitoring.NewLoggerTo(os.Stderr, cfg.LogLevel)

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	svc, err := trust.NewService(trust.Options{
		Config:  cfg,
		DB:      db,
		Logger:  logger,
		Metrics: monitoring.NewMetrics(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop()

	return fn(ctx, svc)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func scoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "Print the latest trust score of an entity",
		Flags: entityFlags(),
		Action: func(c *cli.Context) error {
			entityType, entityID, err := entityArgs(c)
			if err != nil {
				return err
			}
			return withService(c, func(ctx context.Context, svc *trust.Service) error {
				score, err := svc.GetScore(ctx, entityType, entityID)
				if err != nil {
					return err
				}
				if score == nil {
					return fmt.Errorf("no score for %s", types.EntityKey(entityType, entityID))
				}
				return printJSON(score)
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Print the score history of an entity",
		Flags: entityFlags(),
		Action: func(c *cli.Context) error {
			entityType, entityID, err := entityArgs(c)
			if err != nil {
				return err
			}
			return withService(c, func(ctx context.Context, svc *trust.Service) error {
				history, err := svc.GetHistory(ctx, entityType, entityID)
				if err != nil {
					return err
				}
				return printJSON(history)
			})
		},
	}
}

func putDataCommand() *cli.Command {
	return &cli.Command{
		Name:  "put-data",
		Usage: "Store the raw input snapshot the fetcher returns for an entity",
		Flags: append(entityFlags(), &cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Path to a JSON object with the raw entity data",
			Required: true,
		}),
		Action: func(c *cli.Context) error {
			entityType, entityID, err := entityArgs(c)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(c.String("file"))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", c.String("file"), err)
			}
			var raw types.RawEntityInput
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("raw data must be a JSON object: %w", err)
			}
			return withService(c, func(ctx context.Context, svc *trust.Service) error {
				if err := svc.PutEntityData(ctx, entityType, entityID, raw); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "stored raw data for %s\n", types.EntityKey(entityType, entityID))
				return nil
			})
		},
	}
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Run a JSON-lines file of update events through the pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to a file with one update event per line",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 0,
				Usage: "Give up waiting for the queue to drain after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			f, err := os.Open(c.String("file"))
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", c.String("file"), err)
			}
			defer f.Close()

			evs, err := readEvents(f)
			if err != nil {
				return err
			}

			return withService(c, func(ctx context.Context, svc *trust.Service) error {
				result, err := replay(ctx, svc, evs, c.Duration("timeout"))
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
}

func deadLettersCommand() *cli.Command {
	return &cli.Command{
		Name:  "dead-letters",
		Usage: "List events dropped after exhausting retries",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 50,
				Usage: "Maximum number of entries",
			},
		},
		Action: func(c *cli.Context) error {
			return withService(c, func(ctx context.Context, svc *trust.Service) error {
				letters, err := svc.DeadLetters(ctx, c.Int("limit"))
				if err != nil {
					return err
				}
				return printJSON(letters)
			})
		},
	}
}

func leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "Rank the scored entities of one type",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Aliases:  []string{"t"},
				Usage:    "Entity type (nft, creator, collection)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "order",
				Value: string(leaderboard.OrderTop),
				Usage: "top ranks the most trusted first, bottom the least trusted",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "Maximum number of entries (at most 100)",
			},
			&cli.Float64Flag{
				Name:  "min-confidence",
				Value: 0,
				Usage: "Skip scores below this confidence",
			},
		},
		Action: func(c *cli.Context) error {
			q := leaderboard.Query{
				EntityType:    types.EntityType(c.String("type")),
				Order:         leaderboard.Order(c.String("order")),
				Limit:         c.Int("limit"),
				MinConfidence: c.Float64("min-confidence"),
			}
			return withService(c, func(ctx context.Context, svc *trust.Service) error {
				board, err := svc.Leaderboard(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(board)
			})
		},
	}
}
