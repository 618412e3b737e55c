package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/coder/quartz"

	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/model"
)

// FormatVersion is written into every JSON backup.
const FormatVersion = "1.0"

// Kind selects a collection for CSV export.
type Kind string

const (
	KindHistory Kind = "history"
	KindDaily   Kind = "daily"
)

// Collections names the stored collections an Exporter reads and an
// Importer writes.
type Collections struct {
	History string
	Daily   string
}

// DailyRecord is a daily average together with the date it summarizes.
type DailyRecord struct {
	Date string `json:"date"`
	model.DailyAverage
}

// Metadata describes a backup.
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SampleCount int       `json:"sample_count"`
	DailyCount  int       `json:"daily_count"`
	Version     string    `json:"version"`
}

// Backup is the JSON export format.
type Backup struct {
	Metadata Metadata       `json:"metadata"`
	Samples  []model.Sample `json:"samples"`
	Daily    []DailyRecord  `json:"daily"`
}

// Options bounds an export.
type Options struct {
	Start time.Time
	End   time.Time
}

// Result summarizes a finished export.
type Result struct {
	SamplesExported int       `json:"samples_exported"`
	DailyExported   int       `json:"daily_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Exporter reads the collections out of a store.
type Exporter struct {
	store docstore.Store
	cols  Collections
	loc   *time.Location
	clock quartz.Clock
}

// NewExporter creates an exporter. loc decides which calendar day a date key
// covers when filtering daily averages.
func NewExporter(store docstore.Store, cols Collections, loc *time.Location, clock quartz.Clock) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{store: store, cols: cols, loc: loc, clock: clock}
}

// Dataset is what one export covers.
type Dataset struct {
	Options Options
	Samples []model.Sample
	Daily   []DailyRecord
}

// Collect loads every sample and daily average inside opts, oldest first.
// Documents that fail to decode are skipped.
func (e *Exporter) Collect(ctx context.Context, opts Options) (*Dataset, error) {
	sampleDocs, err := e.store.List(ctx, e.cols.History)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	samples := make([]model.Sample, 0, len(sampleDocs))
	for _, doc := range sampleDocs {
		var s model.Sample
		if doc.Decode(&s) != nil {
			continue
		}
		if s.Timestamp.Before(opts.Start) || s.Timestamp.After(opts.End) {
			continue
		}
		samples = append(samples, s)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	dailyDocs, err := e.store.List(ctx, e.cols.Daily)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily averages: %w", err)
	}
	first := model.DateKey(opts.Start, e.loc)
	last := model.DateKey(opts.End, e.loc)
	daily := make([]DailyRecord, 0, len(dailyDocs))
	for _, doc := range dailyDocs {
		// Date keys sort lexically, and List returns them in ID order.
		if doc.ID < first || doc.ID > last {
			continue
		}
		rec := DailyRecord{Date: doc.ID}
		if doc.Decode(&rec.DailyAverage) != nil {
			continue
		}
		daily = append(daily, rec)
	}
	return &Dataset{Options: opts, Samples: samples, Daily: daily}, nil
}

// ExportToJSON writes a Backup of the range to w.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	ds, err := e.Collect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.WriteJSON(w, ds)
}

// ExportToCSV writes one collection of the range to w as CSV.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, kind Kind, opts Options) (*Result, error) {
	ds, err := e.Collect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.WriteCSV(w, kind, ds)
}

// WriteJSON encodes ds as a Backup.
func (e *Exporter) WriteJSON(w io.Writer, ds *Dataset) (*Result, error) {
	backup := Backup{
		Metadata: Metadata{
			ExportedAt:  e.clock.Now().UTC(),
			StartTime:   ds.Options.Start,
			EndTime:     ds.Options.End,
			SampleCount: len(ds.Samples),
			DailyCount:  len(ds.Daily),
			Version:     FormatVersion,
		},
		Samples: ds.Samples,
		Daily:   ds.Daily,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &Result{
		SamplesExported: len(ds.Samples),
		DailyExported:   len(ds.Daily),
		TimeRange:       timeRange(ds.Options.Start, ds.Options.End),
		Format:          "json",
		ExportedAt:      backup.Metadata.ExportedAt,
	}, nil
}

// WriteCSV writes one collection of ds as CSV.
func (e *Exporter) WriteCSV(w io.Writer, kind Kind, ds *Dataset) (*Result, error) {
	result := &Result{
		TimeRange:  timeRange(ds.Options.Start, ds.Options.End),
		Format:     "csv",
		ExportedAt: e.clock.Now().UTC(),
	}

	var rows [][]string
	switch kind {
	case KindHistory:
		rows = append(rows, []string{"timestamp", "count", "label"})
		for _, s := range ds.Samples {
			rows = append(rows, []string{
				s.Timestamp.UTC().Format(time.RFC3339),
				strconv.Itoa(s.Count),
				s.Label,
			})
		}
		result.SamplesExported = len(ds.Samples)
	case KindDaily:
		rows = append(rows, []string{"date", "average_users", "entry_count", "written_at"})
		for _, d := range ds.Daily {
			rows = append(rows, []string{
				d.Date,
				strconv.Itoa(d.AverageUsers),
				strconv.Itoa(d.EntryCount),
				d.Timestamp.UTC().Format(time.RFC3339),
			})
		}
		result.DailyExported = len(ds.Daily)
	default:
		return nil, fmt.Errorf("unknown collection %q", kind)
	}

	if err := csv.NewWriter(w).WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}
	return result, nil
}

func timeRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
}
