package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"coffee-location-dedup/internal/auth"
	"coffee-location-dedup/internal/cache"
	"coffee-location-dedup/internal/decision"
	"coffee-location-dedup/internal/domain"
	"coffee-location-dedup/internal/enrich"
	"coffee-location-dedup/internal/infrastructure/repository"
	"coffee-location-dedup/internal/processor"
	"coffee-location-dedup/internal/review"
	"coffee-location-dedup/internal/similarity"
	"coffee-location-dedup/pkg/config"
	"coffee-location-dedup/pkg/container"
	"coffee-location-dedup/pkg/database"
	"coffee-location-dedup/pkg/events"
	"coffee-location-dedup/pkg/health"
	"coffee-location-dedup/pkg/logging"
	metricsPkg "coffee-location-dedup/pkg/metrics"
	"coffee-location-dedup/pkg/monitoring"
)

// uowTxFactory narrows the unit-of-work factory to the write surface one
// detection run commits through.
type uowTxFactory struct{ f domain.UnitOfWorkFactory }

func (a uowTxFactory) Begin(ctx context.Context) (processor.RunTx, error) {
	return a.f.Begin(ctx)
}

func engineConfig(cfg *config.Config) processor.EngineConfig {
	ec := processor.DefaultEngineConfig()
	if cfg.WorkerCount > 0 {
		ec.WorkerCount = cfg.WorkerCount
	}
	if cfg.QueueSize > 0 {
		ec.QueueSize = cfg.QueueSize
	}
	if cfg.MaxRetries >= 0 {
		ec.MaxRetries = cfg.MaxRetries
	}
	ec.Detector.Policy = decision.Config{
		TextThreshold:      cfg.TextThreshold,
		DistanceThresholdM: cfg.DistanceThresholdM,
		FlagMargin:         cfg.FlagMargin,
	}
	if cfg.NameWeight > 0 || cfg.AddressWeight > 0 {
		ec.Detector.Similarity = similarity.Config{
			NameWeight:    cfg.NameWeight,
			AddressWeight: cfg.AddressWeight,
		}
	}
	if cfg.CellIndexMinRecords > 0 {
		ec.Detector.CellIndexMinRecords = cfg.CellIndexMinRecords
	}
	ec.Detector.Parallelism = cfg.ScoreParallelism
	ec.CanonicalPolicy = cfg.CanonicalPolicy
	return ec
}

func main() {
	// Build container and register providers
	c := container.New()

	// Config (singleton)
	_ = c.Provide(func() *config.Config { return config.Load() }, true)

	// Database (singleton)
	_ = c.Provide(func(cfg *config.Config) (*database.DB, error) { return database.NewWithConfig(cfg.DatabaseURL, cfg) }, true)

	// Repository and UoW factory (singletons)
	_ = c.Provide(func(db *database.DB) domain.Repository { return repository.NewSQLRepository(db) }, true)
	_ = c.Provide(func(db *database.DB) domain.UnitOfWorkFactory { return repository.NewSQLUnitOfWorkFactory(db) }, true)

	// Event store (singleton)
	_ = c.Provide(func(db *database.DB) events.EventStore { return events.NewSQLEventStore(db) }, true)

	// Run engine (singleton)
	_ = c.Provide(func(repo domain.Repository, uowf domain.UnitOfWorkFactory, cfg *config.Config, log zerolog.Logger) *processor.Engine {
		return processor.NewEngine(repo, uowTxFactory{uowf}, engineConfig(cfg), log)
	}, true)

	// Resolve config early for logging and monitoring setup
	var cfg *config.Config
	if err := c.Resolve(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config resolve:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)
	logging.SetGlobal(logger)
	_ = c.Provide(func() zerolog.Logger { return logger }, true)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	monitoring.EnableProfiling(cfg.ProfilingEnabled)
	logger.Info().Str("env", cfg.Env).Msg("starting location dedup service")

	var (
		db   *database.DB
		repo domain.Repository
		eng  *processor.Engine
		es   events.EventStore
	)
	if err := c.Resolve(&db); err != nil {
		logger.Fatal().Err(err).Msg("db resolve")
	}
	if err := c.Resolve(&repo); err != nil {
		logger.Fatal().Err(err).Msg("repo resolve")
	}
	if err := c.Resolve(&eng); err != nil {
		logger.Fatal().Err(err).Msg("engine resolve")
	}
	if err := c.Resolve(&es); err != nil {
		logger.Fatal().Err(err).Msg("event store resolve")
	}
	eng.SetEventStore(es)

	// Optional report cache
	var reportCache *cache.Cache
	if cfg.RedisAddr != "" {
		reportCache = cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		eng.SetCache(reportCache)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("report cache enabled")
	}

	// Optional coordinate enrichment
	if cfg.GoogleMapsAPIKey != "" {
		geocoder, err := enrich.NewGoogleGeocoder(cfg.GoogleMapsAPIKey, int(cfg.GeocodeRPS), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("geocoder init failed")
		}
		eng.SetEnricher(enrich.New(geocoder, logger))
		logger.Info().Msg("coordinate enrichment enabled")
	}

	// Optional assisted review of flagged pairs
	opinions := review.NewOpinionStore()
	var assistant *review.Assistant
	if cfg.OpenAIAPIKey != "" {
		var err error
		assistant, err = review.NewAssistant(cfg.OpenAIAPIKey, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("review assistant init failed")
		}
		eng.SetAssistant(assistant, opinions)
		logger.Info().Msg("assisted flag review enabled")
	}

	app := &App{
		repo:     repo,
		uowf:     repository.NewSQLUnitOfWorkFactory(db),
		engine:   eng,
		es:       es,
		cache:    reportCache,
		opinions: opinions,
		config:   cfg,
		log:      logging.Component(logger, "http"),
	}

	eng.Start()

	// Config watcher for hot-reload: thresholds, canonical policy, workers
	cw := config.NewWatcher(time.Duration(cfg.ConfigReloadIntervalSeconds) * time.Second)
	cw.Start()
	chgCh := cw.Subscribe()
	go func() {
		for chg := range chgCh {
			if chg.Err != nil {
				logger.Warn().Err(chg.Err).Msg("config reload failed")
				continue
			}
			eng.ApplyConfig(chg.New.WorkerCount, chg.New.TextThreshold, chg.New.DistanceThresholdM, chg.New.CanonicalPolicy)
			app.setConfig(chg.New)
			logger.Info().Strs("fields", chg.Fields).Msg("config applied")
		}
	}()

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info().Msg("received shutdown signal, initiating graceful shutdown")
		if assistant != nil {
			assistant.Stop()
		}
		if err := eng.Stop(30 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("engine shutdown")
		}
		cancel()
	}()

	// Health checks
	hm := health.NewHealthManager(version, 5*time.Second, logger)
	hm.RegisterChecker(health.NewDatabaseHealthChecker(db.Conn(), "mysql"))
	hm.RegisterChecker(health.NewEngineHealthChecker("engine", eng.Running, func() interface{} { return eng.GetStats() }))
	if reportCache != nil {
		hm.RegisterChecker(health.NewHealthCheckFunc("redis", func(ctx context.Context) health.ComponentHealth {
			start := time.Now()
			ch := health.ComponentHealth{Name: "redis", LastChecked: start}
			if err := reportCache.Ping(ctx); err != nil {
				ch.Status = health.HealthStatusDegraded
				ch.Error = err.Error()
				ch.Message = "cache unavailable, falling back to store reads"
			} else {
				ch.Status = health.HealthStatusHealthy
			}
			ch.Duration = time.Since(start)
			return ch
		}))
	}

	// Operator authentication guards mutating endpoints
	operatorResolver := auth.NewOperatorResolver()
	operatorAuth := auth.NewOperatorAuthMiddleware(operatorResolver, respondUnauthorized)

	// HTTP routing
	router := mux.NewRouter()
	router.Use(logging.RequestMiddleware(logging.Component(logger, "http")))
	if cfg.MetricsEnabled {
		router.Use(monitoring.Middleware())
	}

	router.HandleFunc("/api/runs", app.submitRunHandler).Methods("POST")
	router.HandleFunc("/api/runs", app.listRunsHandler).Methods("GET")
	router.HandleFunc("/api/runs/{id}", app.runReportHandler).Methods("GET")
	router.HandleFunc("/api/runs/{id}/events", app.runEventsHandler).Methods("GET")
	router.HandleFunc("/api/detect", app.detectHandler).Methods("POST")

	router.HandleFunc("/api/flags", app.listFlagsHandler).Methods("GET")
	router.Handle("/api/flags/{id}/resolve",
		operatorAuth.Handler(http.HandlerFunc(app.resolveFlagHandler))).Methods("POST")

	router.HandleFunc("/api/stats", app.statsHandler).Methods("GET")
	router.HandleFunc("/api/locations", app.listLocationsHandler).Methods("GET")
	router.HandleFunc("/api/locations/{id}", app.locationHandler).Methods("GET")
	router.HandleFunc("/api/locations/{id}/similar", app.similarLocationsHandler).Methods("GET")

	healthPath := cfg.HealthCheckPath
	if healthPath == "" {
		healthPath = "/health"
	}
	router.HandleFunc(healthPath, hm.Handler()).Methods("GET")
	router.HandleFunc(healthPath+"/live", hm.LivenessHandler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	var adminServer *http.Server
	if cfg.ProfilingEnabled || cfg.MetricsEnabled {
		adminMux := http.NewServeMux()
		if cfg.ProfilingEnabled {
			monitoring.RegisterPprof(adminMux)
		}
		if cfg.MetricsEnabled {
			adminMux.Handle(cfg.MetricsPath, metricsPkg.MetricsHandler(metricsPkg.InitRegistry()))
			go monitoring.StartRuntimeSampler(ctx, 15*time.Second)
		}
		adminServer = &http.Server{Addr: ":" + cfg.AdminPort, Handler: adminMux}
		go func() {
			logger.Info().Str("port", cfg.AdminPort).Msg("admin server (pprof/metrics) starting")
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("admin server error")
			}
		}()
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	cw.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("admin server shutdown")
		}
	}
	if reportCache != nil {
		_ = reportCache.Close()
	}
	_ = db.Close()
	logger.Info().Msg("shutdown complete")
}
