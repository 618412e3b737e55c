package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/httpx"
	"github.com/nicktill/popwatch/pkg/population"
)

type usersResponse struct {
	OnlineUsers int       `json:"onlineUsers"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// setupRoutes registers the simulated API.
func setupRoutes(router *mux.Router, pop *Population, errorRate float64, log logrus.FieldLogger) {
	router.HandleFunc(population.UsersPath, handleUsers(pop, errorRate, log)).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
}

// handleUsers answers with the current count, failing a fraction of
// requests so the dashboard's error path can be exercised.
func handleUsers(pop *Population, errorRate float64, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pop.Fail(errorRate) {
			log.Info("⚠️  Simulating upstream failure")
			httpx.RespondErrorString(w, http.StatusInternalServerError, "simulated outage")
			return
		}
		httpx.RespondJSON(w, http.StatusOK, usersResponse{
			OnlineUsers: pop.Current(),
			UpdatedAt:   time.Now().UTC(),
		})
	}
}
