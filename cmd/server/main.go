package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tablekeep/tenant-integrity-service/internal/api"
	"github.com/tablekeep/tenant-integrity-service/internal/audit"
	"github.com/tablekeep/tenant-integrity-service/internal/config"
	"github.com/tablekeep/tenant-integrity-service/internal/crypto"
	"github.com/tablekeep/tenant-integrity-service/internal/monitoring"
	"github.com/tablekeep/tenant-integrity-service/internal/service"
	"github.com/tablekeep/tenant-integrity-service/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Env.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	cipher, err := crypto.New([]byte(cfg.Crypto.EmailKey))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid contact email encryption key")
	}

	var rdb store.RedisClient
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	engine := audit.NewEngine(audit.DefaultSpecs()...)

	ctx := context.Background()
	backend, err := store.NewPostgres(ctx, cfg.Database.DSN, store.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}, cipher, engine, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer backend.Close()

	monitoring.InitMetrics()

	reconciler := service.NewReconciler(backend)
	handler := api.NewHandler(reconciler, backend)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	handler.Register(e, api.JWTAuthMiddleware(cfg.Auth.SigningKey))

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("Starting admin API server")
		if err := e.Start(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start admin API server")
		}
	}()

	// Health checks and metrics on a separate port.
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		httpServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTP.MetricsPort),
			Handler: mux,
		}
		log.Info().Int("port", cfg.HTTP.MetricsPort).Msg("HTTP server for health checks and metrics started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Admin API shutdown error")
	}
	log.Info().Msg("Server exiting")
}
