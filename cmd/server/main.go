package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"heartlink/backend/internal/api/handler"
	"heartlink/backend/internal/app"
	"heartlink/backend/internal/config"
	"heartlink/backend/internal/metrics"
	"heartlink/backend/internal/obs"
	"heartlink/backend/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Fatalf("Failed to init tracer: %v", err)
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer stores.Close()

	m := metrics.NewPrometheus(prometheus.DefaultRegisterer, "heartlink")
	svc := app.NewServices(stores, cfg.Policy(), m, logger)

	hub := realtime.NewHub(stores.Notices, svc.Presence)
	hub.Logger = logger

	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("hub stopped", "error", err)
		}
	}()
	if cfg.SweepInterval > 0 {
		go svc.Scheduler.Run(ctx, cfg.SweepInterval)
	}
	if cfg.WarnInterval > 0 {
		go svc.Notifier.Run(ctx, cfg.WarnInterval)
	}

	limiter := handler.NewLimiterStore(cfg.RatePerMin, cfg.RateBurst, time.Minute)
	defer limiter.Stop()

	h := handler.NewHandler(svc.Registry, svc.Rooms, svc.Presence, svc.Notifier, hub, handler.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL))
	h.Logger = logger

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(cfg.ServiceName))
	h.Routes(r, limiter, promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}
}
