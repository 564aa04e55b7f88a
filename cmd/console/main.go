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

	"github.com/cognitriage/console/pkg/analysis"
	"github.com/cognitriage/console/pkg/cache"
	"github.com/cognitriage/console/pkg/common/config"
	"github.com/cognitriage/console/pkg/common/logger"
	"github.com/cognitriage/console/pkg/console"
	"github.com/cognitriage/console/pkg/console/middleware"
	"github.com/cognitriage/console/pkg/demo"
	"github.com/cognitriage/console/pkg/events"
	"github.com/cognitriage/console/pkg/observability/metrics"
	"github.com/cognitriage/console/pkg/pipeline"
	"github.com/cognitriage/console/pkg/session"
)

func main() {
	logger.Init()
	cfg := config.Load()

	client := analysis.NewClient(cfg.AnalysisBaseURL, cfg.RequestTimeout)

	resultCache := cache.NewNoop()
	if cfg.RedisAddr != "" {
		resultCache = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultCacheTTL)
	}

	publisher := events.NewNoop()
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer publisher.Close()

	profiles := demo.DefaultProfiles()
	if cfg.DemoProfilesPath != "" {
		loaded, err := demo.LoadProfiles(cfg.DemoProfilesPath)
		if err != nil {
			logger.Log.WithError(err).Warn("Demo profiles not loaded, using defaults")
		} else {
			profiles = loaded
		}
	}

	manager := session.NewManager(cfg.SessionIdleTTL)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go manager.RunJanitor(janitorCtx)

	handler := console.NewHandler(manager, profiles, func(s *session.Session) *pipeline.Pipeline {
		return pipeline.New(client, s.Store, pipeline.Options{
			SessionID:    s.ID.String(),
			Interval:     cfg.PollInterval,
			FailureLimit: cfg.PollFailureLimit,
			Cache:        resultCache,
			Events:       publisher,
		})
	})

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     cfg.ServerPort,
			"analysis": cfg.AnalysisBaseURL,
		}).Info("Console started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down console...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Console stopped")
}
