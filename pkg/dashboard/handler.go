// Package dashboard serves the population dashboard: an embedded page, JSON
// endpoints for the current state, and a WebSocket that pushes every change.
package dashboard

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/httpx"
	"github.com/nicktill/popwatch/pkg/model"
	"github.com/nicktill/popwatch/pkg/status"
)

//go:embed web/dashboard.html
var dashboardHTML []byte

// WindowSource supplies the live sample window.
type WindowSource interface {
	Window() []model.Sample
}

// Lister reads a whole collection.
type Lister interface {
	List(ctx context.Context, collection string) ([]docstore.Document, error)
}

// HistoryResponse is the body of GET /v1/history.
type HistoryResponse struct {
	Samples []model.Sample `json:"samples"`
	Count   int            `json:"count"`
}

// DailyEntry is one day of GET /v1/daily.
type DailyEntry struct {
	Date string `json:"date"`
	model.DailyAverage
}

// Handler serves the dashboard's HTTP endpoints.
type Handler struct {
	board           *status.Board
	window          WindowSource
	store           Lister
	dailyCollection string
	hub             *Hub
	timeout         time.Duration
	log             logrus.FieldLogger
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Board           *status.Board
	Window          WindowSource
	Store           Lister
	DailyCollection string
	Hub             *Hub
	StoreTimeout    time.Duration
	Logger          logrus.FieldLogger
}

// NewHandler creates a new dashboard handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Handler{
		board:           cfg.Board,
		window:          cfg.Window,
		store:           cfg.Store,
		dailyCollection: cfg.DailyCollection,
		hub:             cfg.Hub,
		timeout:         cfg.StoreTimeout,
		log:             cfg.Logger.WithField("component", "dashboard"),
	}
}

// HandleIndex serves the dashboard page. It always renders; the page shows
// whatever state the API reports.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(dashboardHTML); err != nil {
		h.log.WithError(err).Debug("Failed to write dashboard page")
	}
}

// HandleStatus returns the current display state.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.board.Snapshot())
}

// HandleHistory returns the live window. Responses carry an ETag so pollers
// can skip unchanged windows.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	samples := h.window.Window()
	if samples == nil {
		samples = []model.Sample{}
	}
	httpx.RespondJSONCached(w, r, HistoryResponse{Samples: samples, Count: len(samples)})
}

// HandleDaily returns every stored daily average, oldest date first.
func (h *Handler) HandleDaily(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	docs, err := h.store.List(ctx, h.dailyCollection)
	if err != nil {
		h.log.WithError(err).Warn("Failed to list daily averages")
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
		return
	}

	entries := make([]DailyEntry, 0, len(docs))
	for _, doc := range docs {
		var avg model.DailyAverage
		if err := doc.Decode(&avg); err != nil {
			h.log.WithError(err).WithField("id", doc.ID).Warn("Skipping undecodable daily average")
			continue
		}
		entries = append(entries, DailyEntry{Date: doc.ID, DailyAverage: avg})
	}
	httpx.RespondJSON(w, http.StatusOK, entries)
}

// HandleWebSocket streams snapshots to the client.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// Bind publishes a snapshot to hub whenever the board or the window changes.
func Bind(hub *Hub, board *status.Board, window WindowSource, onWindow func(func([]model.Sample))) {
	board.OnChange(func(s status.Snapshot) {
		hub.Publish(s, window.Window())
	})
	onWindow(func(samples []model.Sample) {
		hub.Publish(board.Snapshot(), samples)
	})
	hub.Publish(board.Snapshot(), window.Window())
}
