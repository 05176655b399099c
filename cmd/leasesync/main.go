package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"leasesync/internal/config"
	"leasesync/internal/crawler"
	"leasesync/internal/db"
	"leasesync/internal/lease"
	"leasesync/internal/logger"
	"leasesync/internal/observability"
	"leasesync/internal/pipeline"
	"leasesync/internal/repository"
)

// go run ./cmd/leasesync
// go run ./cmd/leasesync -dry-run -workers=4
// go run ./cmd/leasesync -migrate
func main() {
	os.Exit(run())
}

func run() int {
	workers := flag.Int("workers", 0, "detail fetch workers (overrides WORKERS)")
	parseBatch := flag.Int("parse-batch", 0, "detail URLs extracted per write (overrides PARSE_BATCH)")
	listingBatch := flag.Int("listing-batch", 0, "listings per transaction (overrides LISTING_BATCH)")
	dryRun := flag.Bool("dry-run", false, "run against an in-memory store, persist nothing")
	migrate := flag.Bool("migrate", false, "create the tables if missing before the run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if *workers > 0 {
		cfg.Site.Workers = *workers
	}
	if *parseBatch > 0 {
		cfg.Batch.Parse = *parseBatch
	}
	if *listingBatch > 0 {
		cfg.Batch.Listing = *listingBatch
	}
	if *dryRun {
		cfg.Store = "memory"
	}

	runID := uuid.NewString()
	logger.Init(logger.Options{
		Level:        cfg.LogLevel,
		Format:       cfg.LogFormat,
		Service:      "leasesync",
		StaticFields: map[string]string{"run_id": runID},
	})
	log := logger.Named("main")

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid config")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	if cfg.MetricsPort != "" {
		observability.Start(ctx, cfg.MetricsPort, reg)
	}

	if cfg.RedisURL != "" {
		rc, err := lease.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("connect redis")
			return 1
		}
		defer rc.Close()
		l, err := lease.Acquire(ctx, rc, cfg.Lock.Key, cfg.Lock.TTL)
		if err != nil {
			if errors.Is(err, lease.ErrHeld) {
				log.Error().Str("key", cfg.Lock.Key).Msg("another run is in progress")
			} else {
				log.Error().Err(err).Msg("acquire run lease")
			}
			return 1
		}
		defer func() {
			if err := l.Release(context.Background()); err != nil {
				log.Warn().Err(err).Msg("release run lease")
			}
		}()
	}

	var store repository.Store
	if strings.EqualFold(cfg.Store, "memory") {
		log.Warn().Msg("dry run: nothing will be persisted")
		store = repository.NewMemoryStore(nil)
	} else {
		pool, err := db.Open(ctx, db.Config{URL: cfg.DatabaseURL})
		if err != nil {
			log.Error().Err(err).Msg("connect store")
			return 1
		}
		defer pool.Close()
		repo := repository.NewListingRepository(pool, cfg.Batch.StatementRows)
		if *migrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				log.Error().Err(err).Msg("migrate")
				return 1
			}
			log.Info().Msg("schema ready")
		}
		store = repo
	}

	clientOpts := crawler.ClientOptions{
		UserAgent:      cfg.Fetch.UserAgent,
		Accept:         cfg.Fetch.Accept,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		Referer:        cfg.Site.BaseURL + "/",
		Timeout:        cfg.Fetch.Timeout,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		Backoff:        cfg.Fetch.Backoff,
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		OnRetry:        metrics.Retry,
	}
	newClient := func() *crawler.Client { return crawler.NewClient(clientOpts) }

	disc, err := crawler.NewDiscoverer(crawler.DiscoverOptions{
		BaseURL:      cfg.Site.BaseURL,
		IndexPath:    cfg.Site.IndexPath,
		SectionQuery: cfg.Site.SectionQuery,
		PerPage:      cfg.Site.PerPage,
		MaxPages:     cfg.Site.MaxPages,
		PageDelay:    cfg.Site.PageDelay,
		Workers:      cfg.Site.Workers,
	}, newClient)
	if err != nil {
		log.Error().Err(err).Msg("discoverer")
		return 1
	}

	mapper, err := crawler.NewMapper(cfg.Site.Extractor, cfg.Site.JSONSuffix)
	if err != nil {
		log.Error().Err(err).Msg("extractor")
		return 1
	}
	pool := crawler.NewPool(cfg.Site.Workers, newClient, crawler.NewDetail(mapper))
	defer pool.Close()

	writer := repository.NewBulkWriter(store, repository.WriterOptions{
		ListingBatch: cfg.Batch.Listing,
		ImageBatch:   cfg.Batch.Image,
		ClipLimits:   cfg.ClipLimits,
	})

	p := pipeline.New(disc, store, pool, writer, metrics, pipeline.Options{
		RunID:      runID,
		ParseBatch: cfg.Batch.Parse,
	})
	st, err := p.Run(ctx)
	for _, s := range writer.Diagnostics().Skips() {
		log.Warn().
			Str("kind", string(s.Kind)).
			Str("url", s.URL).
			Str("image_url", s.ImageURL).
			Str("column", s.Column).
			Str("sqlstate", s.SQLState).
			Str("reason", s.Message).
			Msg("row skipped")
	}
	if err != nil {
		// batches committed before the failure stay committed
		log.Error().Err(err).Int("inserted", st.Inserted).Int("removed", st.Removed).Msg("run aborted")
		return 1
	}
	log.Info().
		Int("discovered", st.Discovered).
		Int("new", st.New).
		Int("obsolete", st.Obsolete).
		Int("inserted", st.Inserted).
		Int("skipped", st.Skipped+st.FetchFailed+st.NoImages+st.ParseFailed).
		Dur("took", st.Duration).
		Msg("done")
	return 0
}
