package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/billing"
	"callbridge/internal/calls"
	"callbridge/internal/compliance"
	"callbridge/internal/config"
	"callbridge/internal/injection"
	"callbridge/internal/stream"
	"callbridge/internal/synthesis"
	"callbridge/internal/telco"
	"callbridge/internal/tenants"
	"callbridge/internal/translation"
	"callbridge/internal/webhook"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Degraded providers passed startup validation only because the bypass
	// is on; make the state unmissable in the boot log.
	for _, slug := range cfg.DegradedProviders() {
		log.Warn("webhook provider running UNSIGNED in degraded mode", "provider", slug)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	verifier, err := webhook.NewVerifier(cfg.Webhooks, cfg.IsProduction())
	if err != nil {
		log.Error("webhook verifier init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Audit first: everything downstream records through it.
	auditor := audit.NewWriter(audit.NewPostgresRepo(db), log)

	gate := compliance.NewGate(
		compliance.NewPostgresSubjects(db),
		compliance.NewRedisCounter(rdb, cfg.Compliance),
		compliance.NewPostgresDecisions(db),
		cfg.Compliance,
	)

	directory := tenants.NewDirectory(db, rdb)
	callRepo := calls.NewPostgresRepo(db)
	callService := calls.NewService(callRepo, gate, directory, auditor)

	telcoClient := telco.NewClient(cfg.Telco.BaseURL, cfg.Telco.APIKey, cfg.Telco.Timeout)
	callService.SetOriginator(telcoClient)

	queue := injection.NewQueue(
		injection.NewPostgresRepo(db),
		callRepo,
		injection.NewRedisLease(rdb),
		telcoClient,
		auditor,
	)
	callService.SetPlaybackSink(queue)

	segmentRepo := translation.NewPostgresSegments(db)
	configStore := translation.NewPostgresConfigs(db)
	translator := translation.NewChatTranslator(
		cfg.Pipeline.TranslateEndpoint, cfg.Pipeline.TranslateAPIKey,
		cfg.Pipeline.TranslateModel, cfg.Pipeline.TranslateTimeout,
	)
	pipeline := translation.NewPipeline(segmentRepo, configStore, billing.NewPlanService(db, rdb), translator)
	pipeline.SetSynthesis(
		synthesis.NewClient(
			cfg.Pipeline.SynthesisEndpoint, cfg.Pipeline.SynthesisAPIKey,
			cfg.Pipeline.SynthesisVoiceID, cfg.Pipeline.SynthesisTimeout,
			synthesis.NewRedisStore(rdb),
		),
		queue,
	)
	callService.SetSegmentSink(pipeline)

	gateway := stream.NewGateway(callRepo, segmentRepo, cfg.Stream.HeartbeatInterval, cfg.Stream.HeartbeatCap)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW:      auth.RequireAccessToken(authManager),
		verifier:    verifier,
		callService: callService,
		segments:    segmentRepo,
		configs:     configStore,
		queue:       queue,
		gateway:     gateway,
		publicBase:  cfg.App.PublicBaseURL,
		db:          db,
		rdb:         rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for a full SSE session at the heartbeat cap.
		WriteTimeout: cfg.Stream.HeartbeatInterval*time.Duration(cfg.Stream.HeartbeatCap) + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Drain queued audit entries before the process exits.
	if err := auditor.Close(shutdownCtx); err != nil {
		log.Error("audit drain incomplete", "err", err)
	}
}
