package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/api"
	"github.com/mediacore/mediacore/internal/config"
	"github.com/mediacore/mediacore/internal/database"
	"github.com/mediacore/mediacore/internal/engine"
	"github.com/mediacore/mediacore/internal/lists"
	"github.com/mediacore/mediacore/internal/logger"
	"github.com/mediacore/mediacore/internal/metadata/tmdb"
	"github.com/mediacore/mediacore/internal/ratelimit"
	"github.com/mediacore/mediacore/internal/ratings"
	"github.com/mediacore/mediacore/internal/scheduler"
	"github.com/mediacore/mediacore/internal/scheduler/tasks"
	"github.com/mediacore/mediacore/internal/websocket"
)

const usage = `Usage: mediacore [flags] [command]

Commands:
  serve                  run the HTTP server and background refresh (default)
  import-ratings <path>  load an IMDb title.ratings.tsv(.gz) dataset into the rating index

Flags:
`

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	db, err := database.New(cfg.Database.Path, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	switch cmd := flag.Arg(0); cmd {
	case "", "serve":
		err = serve(cfg, db, log.Logger)
	case "import-ratings":
		if flag.NArg() != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = importRatings(db, flag.Arg(1), log.Logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Msg("Exiting with error")
		log.Close()
		db.Close()
		os.Exit(1)
	}
}

func importRatings(db *database.DB, path string, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stats, err := ratings.NewStore(db.Conn(), log).ImportFile(ctx, path)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("rows", stats.Rows).
		Int("skipped", stats.Skipped).
		Dur("duration", time.Since(start)).
		Msg("Imported ratings dataset")
	return nil
}

func serve(cfg *config.Config, db *database.DB, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", config.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("Starting MediaCore")

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Capacity:       cfg.RateLimit.Capacity,
		Window:         cfg.RateLimit.Window,
		AcquireTimeout: cfg.TMDB.AcquireTimeout,
	}, log)

	client := tmdb.NewClient(cfg.TMDB, limiter, log)
	if !client.IsConfigured() {
		log.Warn().Msg("TMDB API key not set; list evaluation will fail until it is configured")
	} else if err := client.Test(ctx); err != nil {
		log.Warn().Err(err).Msg("TMDB connection test failed")
	}

	ratingStore := ratings.NewStore(db.Conn(), log)
	eng := engine.New(client, ratingStore, engine.Config{
		PageCapMultiplier: cfg.Lists.PageCapMultiplier,
	}, log)

	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Close()

	listStore := lists.NewStore(db.Conn(), log)
	refresher := lists.NewRefresher(listStore, eng, hub, lists.RefresherConfig{
		Workers:   cfg.Lists.Workers,
		QueueSize: cfg.Lists.QueueSize,
	}, log)
	listService := lists.NewService(listStore, refresher, eng, log)
	listService.SetDefaultInterval(cfg.Lists.DefaultIntervalHours)

	sched, err := scheduler.New(log)
	if err != nil {
		return err
	}
	if err := tasks.RegisterListRefreshTask(sched, refresher, cfg.Lists); err != nil {
		return err
	}
	if err := tasks.RegisterRatingsLinkTask(sched, ratings.NewBackfiller(ratingStore, client, 0), log); err != nil {
		return err
	}

	refresher.Start(ctx)
	sched.Start()

	server := api.NewServer(api.Deps{
		DB:        db,
		Hub:       hub,
		Lists:     listService,
		Scheduler: sched,
		Ratings:   ratingStore,
		Catalog:   client,
		Media:     client,
		Limiter:   limiter,
	}, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Address())
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err = <-serverErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Server shutdown error")
	}
	if stopErr := sched.Stop(); stopErr != nil {
		log.Error().Err(stopErr).Msg("Scheduler shutdown error")
	}
	refresher.Wait()

	log.Info().Msg("Server stopped")
	return err
}
