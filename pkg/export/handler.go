package export

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/httpx"
	"github.com/nicktill/popwatch/pkg/identity"
)

const (
	// DefaultExportWindow is the default time range for exports.
	DefaultExportWindow = 24 * time.Hour

	// MaxExportWindow is the largest range one export may cover.
	MaxExportWindow = 90 * 24 * time.Hour

	// maxImportBytes caps the request body of an import.
	maxImportBytes = 32 << 20
)

// SessionSource reports the signed-in session, if any.
type SessionSource interface {
	Current() *identity.Session
}

// Handler serves the export and import endpoints.
type Handler struct {
	exporter *Exporter
	importer *Importer
	sessions SessionSource
	clock    quartz.Clock
	log      logrus.FieldLogger
}

// NewHandler creates the export/import handler. Imports are refused until
// sessions has a session, the same gate the sampler writes behind.
func NewHandler(store docstore.Store, cols Collections, loc *time.Location, sessions SessionSource, clock quartz.Clock, log logrus.FieldLogger) *Handler {
	return &Handler{
		exporter: NewExporter(store, cols, loc, clock),
		importer: NewImporter(store, cols, loc, clock),
		sessions: sessions,
		clock:    clock,
		log:      log,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - collection: "history" or "daily", CSV only (default: history)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	kind := Kind(query.Get("collection"))
	if kind == "" {
		kind = KindHistory
	}
	if kind != KindHistory && kind != KindDaily {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid collection. Must be 'history' or 'daily'")
		return
	}

	end, err := parseTimeParam(query.Get("end"), h.clock.Now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	start, err := parseTimeParam(query.Get("start"), end.Add(-DefaultExportWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("Time range too large. Maximum is %v", MaxExportWindow))
		return
	}
	opts := Options{Start: start, End: end}

	// Collect before any header goes out so a store failure is still a 503.
	ds, err := h.exporter.Collect(r.Context(), opts)
	if err != nil {
		h.log.WithError(err).Error("Export failed")
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
		return
	}

	timestamp := h.clock.Now().UTC().Format("20060102-150405")
	var result *Result
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=popwatch-export-%s.json", timestamp))
		result, err = h.exporter.WriteJSON(w, ds)
	} else {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=popwatch-%s-%s.csv", kind, timestamp))
		result, err = h.exporter.WriteCSV(w, kind, ds)
	}
	if err != nil {
		h.log.WithError(err).Error("Export failed mid-stream")
		return
	}

	h.log.WithFields(logrus.Fields{
		"format":  format,
		"samples": result.SamplesExported,
		"daily":   result.DailyExported,
		"range":   result.TimeRange,
	}).Info("Export complete")
}

// HandleImport handles POST /v1/import with a JSON backup body.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}
	if h.sessions.Current() == nil {
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "not signed in")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBytes))
	switch {
	case errors.Is(err, ErrEmptyBackup):
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.log.WithError(err).Error("Import failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if len(result.Errors) > 0 {
		h.log.WithField("rejected", len(result.Errors)).Warn("Import completed with validation errors")
		for i, msg := range result.Errors {
			if i == 10 {
				h.log.Warnf("   ... and %d more errors", len(result.Errors)-10)
				break
			}
			h.log.Warn("   - " + msg)
		}
	}
	h.log.WithFields(logrus.Fields{
		"samples": result.SamplesImported,
		"daily":   result.DailyImported,
	}).Info("Import complete")

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses a time parameter, returning def when it is empty.
func parseTimeParam(param string, def time.Time) (time.Time, error) {
	if param == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339", param)
}
