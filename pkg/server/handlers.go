package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/popwatch/pkg/config"
	"github.com/nicktill/popwatch/pkg/docstore/badger"
	"github.com/nicktill/popwatch/pkg/httpx"
	"github.com/nicktill/popwatch/pkg/server/monitor"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Display string               `json:"display_status"`
	Tasks   []monitor.TaskStatus `json:"tasks"`
}

// handleHealth reports degraded when any task is unhealthy.
func handleHealth(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		tasks := []monitor.TaskStatus{c.SamplerMonitor.Status(), c.RollupMonitor.Status()}
		for _, task := range tasks {
			if !task.Healthy {
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Display: string(c.Board.Status()),
			Tasks:   tasks,
		})
	}
}

// StorageResponse is the body of GET /v1/storage.
type StorageResponse struct {
	monitor.StorageUsage
	Store *badger.Stats `json:"store,omitempty"`
}

// statser is implemented by stores that can count their documents.
type statser interface {
	Stats(ctx context.Context) (*badger.Stats, error)
}

// handleStorageUsage returns current storage usage, plus document counts
// when the store can report them.
func handleStorageUsage(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := c.StorageMonitor.Usage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		resp := StorageResponse{StorageUsage: usage}

		if st, ok := c.Store.(statser); ok {
			ctx, cancel := context.WithTimeout(r.Context(), config.StoreOperationTimeout)
			defer cancel()
			stats, err := st.Stats(ctx)
			if err != nil {
				c.Log.WithError(err).Warn("Failed to read store stats")
			} else {
				resp.Store = stats
			}
		}
		httpx.RespondJSON(w, http.StatusOK, resp)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, c *Components, port string) {
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", c.Dashboard.HandleStatus).Methods("GET")
	api.HandleFunc("/history", c.Dashboard.HandleHistory).Methods("GET")
	api.HandleFunc("/daily", c.Dashboard.HandleDaily).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(c)).Methods("GET")
	api.HandleFunc("/health", handleHealth(c)).Methods("GET")
	api.HandleFunc("/export", c.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", c.Export.HandleImport).Methods("POST")

	// WebSocket for live updates
	api.HandleFunc("/ws", c.Dashboard.HandleWebSocket).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/", c.Dashboard.HandleIndex).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
				w.Header().Set("Access-Control-Expose-Headers", "ETag")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
