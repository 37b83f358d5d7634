package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/notesync/internal/checkpoint"
	"github.com/hpungsan/notesync/internal/config"
	"github.com/hpungsan/notesync/internal/cursor"
	"github.com/hpungsan/notesync/internal/db"
	"github.com/hpungsan/notesync/internal/errors"
	"github.com/hpungsan/notesync/internal/lock"
	"github.com/hpungsan/notesync/internal/metrics"
	"github.com/hpungsan/notesync/internal/reindex"
	"github.com/hpungsan/notesync/internal/sink"
)

// exitCancelled is the conventional exit status after SIGINT.
const exitCancelled = 130

// newCLIApp creates the CLI application with all commands.
// Running without a command performs a sync.
func newCLIApp(log *logrus.Logger, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "notesync",
		Usage:   "Sync Misskey notes into a Meilisearch index",
		Version: Version,
		Writer:  out,
		Flags:   syncFlags(),
		Action:  runAction(log),
		Commands: []*cli.Command{
			runCmd(log),
			countCmd(log),
			cursorCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// syncFlags returns the flags shared by run and count. Flags override the config file.
func syncFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML config file", EnvVars: []string{"NOTESYNC_CONFIG"}},
		&cli.StringFlag{Name: "database", Aliases: []string{"c"}, Usage: "Source database connection string", EnvVars: []string{"NOTESYNC_DATABASE"}},
		&cli.StringFlag{Name: "driver", Usage: "Source database driver: pgx|sqlite"},
		&cli.StringFlag{Name: "meili", Aliases: []string{"s"}, Usage: "Meilisearch host URL", EnvVars: []string{"MEILI_HOST"}},
		&cli.StringFlag{Name: "meili-key", Aliases: []string{"k"}, Usage: "Meilisearch API key", EnvVars: []string{"MEILI_MASTER_KEY"}},
		&cli.StringFlag{Name: "meili-index", Aliases: []string{"i"}, Usage: "Meilisearch index name"},
		&cli.IntFlag{Name: "batch-size", Aliases: []string{"n"}, Usage: "Notes per batch (default 10000)"},
		&cli.StringSliceFlag{Name: "additional-hosts", Aliases: []string{"a"}, Usage: "Remote host whose notes are also indexed (repeatable)"},
		&cli.StringFlag{Name: "since", Usage: "Only notes created at or after this time (RFC3339 or YYYY-MM-DD)"},
		&cli.StringFlag{Name: "until", Usage: "Only notes created before this time (RFC3339 or YYYY-MM-DD)"},
		&cli.StringFlag{Name: "id-scheme", Usage: "Id generation method of the instance: aid|aidx|ulid"},
		&cli.BoolFlag{Name: "resume", Usage: "Continue after the saved checkpoint"},
		&cli.StringFlag{Name: "redis", Usage: "Redis address for checkpoints and the run lock", EnvVars: []string{"NOTESYNC_REDIS"}},
		&cli.StringFlag{Name: "metrics-addr", Usage: "Serve /metrics and /status on this address"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug|info|warn|error"},
		&cli.DurationFlag{Name: "timeout", Usage: "Stop the sync after this long (0 = no limit)"},
	}
}

// runCmd creates the run command.
func runCmd(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Sync all matching notes (default command)",
		Flags:  syncFlags(),
		Action: runAction(log),
	}
}

// countCmd creates the count command.
func countCmd(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "count",
		Usage: "Count the notes matching the filter",
		Flags: syncFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return outputError(err)
			}
			if err := cfg.ValidateSource(); err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			applyLogLevel(log, cfg)

			src, err := openSource(c.Context, cfg)
			if err != nil {
				return outputError(err)
			}
			defer src.Close()

			total, err := src.CountMatching(c.Context, db.NewFilter(cfg))
			if err != nil {
				return outputError(err)
			}

			return outputJSON(c.App.Writer, map[string]int64{"total": total})
		},
	}
}

// cursorCmd creates the cursor command.
func cursorCmd() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Print the id boundary for a point in time",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "at", Usage: "Time to encode (RFC3339 or YYYY-MM-DD)", Required: true},
			&cli.StringFlag{Name: "id-scheme", Value: string(cursor.DefaultScheme), Usage: "Id generation method: aid|aidx|ulid"},
		},
		Action: func(c *cli.Context) error {
			scheme, err := cursor.ParseScheme(c.String("id-scheme"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			at, err := config.ParseInstant(c.String("at"))
			if err != nil || at == nil {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid --at %q", c.String("at"))))
			}

			id, err := cursor.Encode(scheme, *at)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			return outputJSON(c.App.Writer, map[string]string{
				"at":     at.Format(time.RFC3339Nano),
				"scheme": string(scheme),
				"cursor": id,
			})
		},
	}
}

// runAction performs a full sync and prints the run summary.
func runAction(log *logrus.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return outputError(err)
		}
		if err := cfg.Validate(); err != nil {
			return outputError(errors.NewInvalidRequest(err.Error()))
		}
		applyLogLevel(log, cfg)

		resume := c.Bool("resume")
		if resume && !cfg.CheckpointEnabled() {
			return outputError(errors.NewInvalidRequest("--resume requires a redis address"))
		}

		ctx := c.Context
		if timeout := c.Duration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		src, err := openSource(ctx, cfg)
		if err != nil {
			return outputError(err)
		}
		defer src.Close()

		pub := sink.NewMeili(log, sink.Config{
			Host:    cfg.Meili.Host,
			APIKey:  cfg.Meili.APIKey,
			Index:   cfg.Meili.Index,
			Timeout: cfg.Meili.Timeout,
		})
		if err := pub.Ping(ctx); err != nil {
			return outputError(err)
		}

		opts := reindex.Options{
			Filter:          db.NewFilter(cfg),
			RefreshInterval: cfg.Sync.RefreshInterval,
			Resume:          resume,
		}

		if cfg.CheckpointEnabled() {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Checkpoint.RedisAddress,
				Password: cfg.Checkpoint.RedisPassword,
				DB:       cfg.Checkpoint.RedisDB,
			})
			defer client.Close()

			if err := client.Ping(ctx).Err(); err != nil {
				return outputError(errors.NewCheckpointFailure("connect redis", err))
			}

			opts.Checkpoint = checkpoint.NewRedis(log, client, checkpoint.Key(cfg.Checkpoint.KeyPrefix, cfg.Meili.Index))
			opts.Lock = lock.NewRedis(log, client, lock.Key(cfg.Checkpoint.KeyPrefix, cfg.Meili.Index), cfg.Checkpoint.LockTTL)
		}

		var last atomic.Pointer[reindex.Event]

		if cfg.Metrics.Address != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			opts.Metrics = metrics.New(reg)

			srv := metrics.NewServer(cfg.Metrics.Address, reg, func() any {
				if e := last.Load(); e != nil {
					return e
				}
				return nil
			})

			serveCtx, stopServe := context.WithCancel(context.Background())

			var g errgroup.Group
			g.Go(func() error {
				return metrics.Serve(serveCtx, log, srv)
			})
			defer func() {
				stopServe()
				if err := g.Wait(); err != nil {
					log.WithError(err).Error("Metrics server failed")
				}
			}()
		}

		opts.OnBatch = func(e reindex.Event) {
			last.Store(&e)
			logBatch(log, e)
		}

		res, err := reindex.New(log, src, pub).Run(ctx, opts)
		if err != nil {
			if res != nil && res.State == reindex.StateCancelled {
				log.WithField("cursor", res.Cursor).Warn("Sync interrupted; the cursor is the last published note")
				_ = outputJSON(c.App.Writer, res)
				return cli.Exit(fmt.Sprintf("[CANCELLED] %v", err), exitCancelled)
			}
			return outputError(err)
		}

		return outputJSON(c.App.Writer, res)
	}
}

// loadConfig reads the config file and overlays the flags that were set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	base, err := config.Load(c.String("config"))
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	overlay := &config.Config{}
	overlay.Database.Driver = c.String("driver")
	overlay.Database.DSN = c.String("database")
	overlay.Meili.Host = c.String("meili")
	overlay.Meili.APIKey = c.String("meili-key")
	overlay.Meili.Index = c.String("meili-index")
	overlay.Sync.BatchSize = c.Int("batch-size")
	overlay.Sync.Hosts = c.StringSlice("additional-hosts")
	overlay.Sync.Since = c.String("since")
	overlay.Sync.Until = c.String("until")
	overlay.Sync.IDScheme = c.String("id-scheme")
	overlay.Checkpoint.RedisAddress = c.String("redis")
	overlay.Metrics.Address = c.String("metrics-addr")
	overlay.LogLevel = c.String("log-level")

	return config.Merge(base, overlay), nil
}

// openSource opens the source database and verifies connectivity.
func openSource(ctx context.Context, cfg *config.Config) (*db.Source, error) {
	src, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(src.DB(), cfg)

	if err := src.Ping(ctx); err != nil {
		src.Close()
		return nil, err
	}
	return src, nil
}

func applyLogLevel(log *logrus.Logger, cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
}

// logBatch writes one progress line per published batch.
func logBatch(log logrus.FieldLogger, e reindex.Event) {
	fields := logrus.Fields{
		"batch":   e.Batch,
		"size":    e.Size,
		"fetched": e.Progress.Fetched,
		"total":   e.Progress.Total,
		"percent": fmt.Sprintf("%.1f", e.Progress.Percent),
		"cursor":  e.Cursor,
		"eta":     e.Progress.Remaining.Round(time.Second),
	}
	if e.Task != nil {
		fields["task_uid"] = e.Task.UID
		fields["status"] = e.Task.Status
	}
	log.WithFields(fields).Info("Published batch")
}

// Helper functions

// outputJSON marshals result to w as JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var syncErr *errors.SyncError
	if stderrors.As(err, &syncErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", syncErr.Code, syncErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
