package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solescan/internal/alerts"
	"solescan/internal/config"
	cronrunner "solescan/internal/cron"
	"solescan/internal/db"
	"solescan/internal/detector"
	"solescan/internal/enricher"
	"solescan/internal/fees"
	"solescan/internal/handler"
	"solescan/internal/ingest"
	"solescan/internal/logger"
	"solescan/internal/matcher"
	"solescan/internal/metrics"
	"solescan/internal/pricestore"
	gormrepository "solescan/internal/repository/gorm"
	"solescan/internal/scoring"
)

func main() {
	cfgPath := os.Getenv("SOLE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("SOLE_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)
	met := metrics.New()
	priceStore := pricestore.New(store, log, met)

	match := &matcher.Matcher{
		Repo:            store,
		Logger:          log,
		RefreshInterval: cfg.Matcher.RefreshInterval,
	}
	go func() {
		if err := match.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("matcher stopped", zap.Error(err))
		}
	}()

	feeEngine := &fees.Engine{Repo: store, Logger: log, CacheTTL: cfg.Fees.CacheTTL}

	marketplaces := make(map[string]string)
	reliability := make(map[string]float64)
	knownSources := make(map[string]bool)
	for name, src := range cfg.Source {
		knownSources[name] = true
		reliability[name] = src.Reliability
		if src.Marketplace != "" {
			marketplaces[src.Marketplace] = src.Marketplace
			marketplaces[name] = src.Marketplace
		}
	}

	det := &detector.Detector{
		Repo:           store,
		Fees:           feeEngine,
		Logger:         log,
		Metrics:        met,
		Marketplaces:   marketplaces,
		DefaultLimit:   cfg.Detector.DefaultLimit,
		FullSweepEvery: time.Duration(cfg.Detector.FullSweepMinutes) * time.Minute,
	}
	go det.Run(ctx, priceStore.Subscribe(1024))

	demand := &scoring.DemandScorer{
		Repo:         store,
		Logger:       log,
		LookbackDays: cfg.Scoring.DemandLookbackDays,
		Seasonality:  cfg.Scoring.Seasonality,
	}
	riskScorer := &scoring.RiskScorer{Repo: store, Logger: log, Reliability: reliability}

	enr := &enricher.Enricher{
		Repo:     store,
		Detector: det,
		Demand:   demand,
		Risk:     riskScorer,
		Logger:   log,
		Metrics:  met,
		CacheTTL: time.Duration(cfg.Scoring.CacheTTLSeconds) * time.Second,
	}
	go enr.Run(ctx, priceStore.Subscribe(1024))

	sink := &ingest.Sink{Matcher: match, Store: priceStore, Logger: log, Metrics: met}
	inboxes := make(map[string]chan<- ingest.Event)
	mgr := &ingest.Manager{Repo: store, Logger: log, Backoff: ingest.DefaultBackoff()}
	for name, src := range cfg.Source {
		if !src.Enabled {
			continue
		}
		switch src.Mode {
		case "pull":
			feed := ingest.NewHTTPFeed(src.BaseURL, os.Getenv(src.APIKeyEnv), 10*time.Second, log)
			mgr.Add(&ingest.PullWorker{
				SourceName: name,
				SourceKind: src.Kind,
				Feed:       feed,
				Sink:       sink,
				Repo:       store,
				Logger:     log,
				Limiter:    rate.NewLimiter(rate.Limit(src.RatePerSecond), src.Burst),
				Interval:   src.PollInterval,
				PageLimit:  src.PageLimit,
				Backoff:    ingest.DefaultBackoff(),
			})
		case "push":
			inbox := make(chan ingest.Event, cfg.Ingest.PushBuffer)
			inboxes[name] = inbox
			mgr.Add(&ingest.PushWorker{
				SourceName: name,
				SourceKind: src.Kind,
				Events:     inbox,
				Sink:       sink,
				Logger:     log,
			})
		case "stream":
			mgr.Add(&ingest.StreamWorker{
				SourceName: name,
				SourceKind: src.Kind,
				URL:        src.StreamURL,
				Sink:       sink,
				Logger:     log,
				Backoff:    ingest.DefaultBackoff(),
			})
		default:
			log.Warn("source has unknown mode; skipped",
				zap.String("source", name), zap.String("mode", src.Mode))
		}
	}
	if cfg.Ingest.Enabled {
		go mgr.Run(ctx)
	}

	dispatcher := alerts.NewDispatcher(store, met, log,
		time.Duration(cfg.Webhook.RequestTimeoutSeconds)*time.Second, cfg.Webhook.MaxRetries)
	sched := &alerts.Scheduler{
		Repo:               store,
		Ranker:             enr,
		Dispatcher:         dispatcher,
		Logger:             log,
		Metrics:            met,
		KnownSources:       knownSources,
		TickInterval:       time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second,
		WorkerPoolSize:     cfg.Scheduler.WorkerPoolSize,
		QueueCapacity:      cfg.Scheduler.QueueCapacity,
		TickDeadlineFactor: cfg.Scheduler.TickDeadlineFactor,
		DrainTimeout:       cfg.Scheduler.DrainTimeout,
	}
	if cfg.Scheduler.Enabled {
		go sched.Run(ctx)
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Workers: mgr, Scheduler: sched}
	healthHandler.Register(engine)
	opsHandler := &handler.OpsHandler{Enricher: enr, Repo: store, Metrics: met}
	opsHandler.Register(engine)
	ingestHandler := &handler.IngestHandler{Token: cfg.Server.IngestToken, Inboxes: inboxes, Logger: log}
	ingestHandler.Register(engine)

	cronRunner := cronrunner.New(log, ctx)
	if cfg.Cron.Enabled {
		_, err := cronRunner.Add("retention_sweep", cfg.Cron.RetentionSweep, func(ctx context.Context) {
			historyCutoff := time.Now().UTC().AddDate(0, 0, -cfg.Retention.HistoryDays)
			if n, err := store.DeletePriceHistoryBefore(ctx, historyCutoff); err != nil {
				log.Warn("price history sweep failed", zap.Error(err))
			} else if n > 0 {
				log.Info("price history swept", zap.Int64("rows", n))
			}
			deliveryCutoff := time.Now().UTC().AddDate(0, 0, -cfg.Retention.DeliveriesDays)
			if n, err := store.DeleteWebhookDeliveriesBefore(ctx, deliveryCutoff); err != nil {
				log.Warn("webhook delivery sweep failed", zap.Error(err))
			} else if n > 0 {
				log.Info("webhook deliveries swept", zap.Int64("rows", n))
			}
		})
		if err != nil {
			log.Warn("cron register retention sweep failed", zap.Error(err))
		}
		_, err = cronRunner.Add("health_snapshot", cfg.Cron.HealthSnapshot, func(ctx context.Context) {
			for name, h := range mgr.Snapshot() {
				if h.Status == ingest.StatusDown || h.Status == ingest.StatusDegraded {
					log.Warn("ingest source unhealthy",
						zap.String("source", name),
						zap.String("status", h.Status),
						zap.Stringp("last_error", h.LastError))
				}
			}
		})
		if err != nil {
			log.Warn("cron register health snapshot failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	storageDown := db.Watch(ctx, dbConn, log, 15*time.Second, cfg.DB.OutageShutdown)

	srv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case <-storageDown:
		log.Error("storage outage, shutting down")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
