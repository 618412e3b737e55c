package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/config"
	"github.com/nicktill/popwatch/pkg/logger"
	"github.com/nicktill/popwatch/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("❌ Invalid configuration")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
	log.Info("🚀 Starting popwatch...")
	log.WithFields(logrus.Fields{
		"app_id":         cfg.AppID,
		"source":         cfg.SourceURL,
		"poll_interval":  cfg.PollInterval,
		"daily_interval": cfg.DailyCheckInterval,
		"timezone":       cfg.Location().String(),
		"max_storage_gb": cfg.MaxStorageGB,
		"max_memory_mb":  cfg.MaxMemoryMB,
	}).Info("⚙️  Configuration loaded")

	store, err := server.InitializeStorage(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("❌ Failed to initialize storage")
	}

	c := server.InitializeComponents(cfg, store, quartz.NewReal(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	server.StartBackground(ctx, c, &wg)
	log.Info("📡 Background tasks started")

	// Sign-in failure is not fatal: the dashboard keeps serving with the
	// error status and polling continues without persisting samples.
	_ = c.SignIn(ctx)

	router := mux.NewRouter()
	server.SetupRoutes(router, c, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.WithField("addr", "http://localhost:"+cfg.Port).Info("🌐 Dashboard ready")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("❌ Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("🛑 Shutdown signal received")

	// Cancel first: the hub and subscriptions hold connections that
	// Shutdown would otherwise wait on.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("⚠️  Server shutdown warning")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Warn("⚠️  Some background tasks did not stop in time")
	}

	if err := store.Close(); err != nil {
		log.WithError(err).Warn("⚠️  Failed to close store")
	}
	log.Info("👋 popwatch exited cleanly")
}
