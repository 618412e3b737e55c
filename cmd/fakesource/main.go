// Command fakesource serves a simulated population API for running popwatch
// locally without the real game backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/logger"
)

type settings struct {
	Port      string        `envconfig:"PORT" default:"9000"`
	Base      int           `envconfig:"BASE_USERS" default:"1200"`
	Swing     float64       `envconfig:"SWING" default:"0.4"`
	Step      time.Duration `envconfig:"STEP" default:"30s"`
	ErrorRate float64       `envconfig:"ERROR_RATE" default:"0.1"`
	Seed      int64         `envconfig:"SEED" default:"1"`
	LogLevel  string        `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	var s settings
	if err := envconfig.Process("FAKESOURCE", &s); err != nil {
		logrus.WithError(err).Fatal("❌ Invalid configuration")
	}
	log := logger.New(s.LogLevel, "text", "stdout")

	pop := NewPopulation(s.Base, s.Swing, s.Seed)
	pop.Step(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go simulate(ctx, pop, s.Step, log)

	router := mux.NewRouter()
	setupRoutes(router, pop, s.ErrorRate, log)

	srv := &http.Server{
		Addr:         ":" + s.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{
			"addr":       "http://localhost:" + s.Port,
			"error_rate": s.ErrorRate,
		}).Info("🎮 Fake population API ready")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("❌ Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("⚠️  Server shutdown warning")
	}
}

// simulate advances the population every step until ctx is cancelled.
func simulate(ctx context.Context, pop *Population, step time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n := pop.Step(now)
			log.WithField("online_users", n).Debug("Population stepped")
		}
	}
}
