package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coder/quartz"

	"github.com/nicktill/popwatch/pkg/model"
)

const (
	// maxImportAge rejects samples older than ten years.
	maxImportAge = 10 * 365 * 24 * time.Hour

	// maxImportSkew rejects samples more than a day in the future.
	maxImportSkew = 24 * time.Hour
)

// ErrEmptyBackup is returned for a backup with nothing to import.
var ErrEmptyBackup = errors.New("backup contains no samples or daily averages")

// Writer is the part of a store an import needs.
type Writer interface {
	Upsert(ctx context.Context, collection, id string, doc any) error
}

// ImportResult summarizes an import.
type ImportResult struct {
	SamplesImported int       `json:"samples_imported"`
	DailyImported   int       `json:"daily_imported"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// Importer restores a Backup into a store.
type Importer struct {
	store Writer
	cols  Collections
	loc   *time.Location
	clock quartz.Clock
}

// NewImporter creates an importer. Samples without a label get one
// rendered in loc.
func NewImporter(store Writer, cols Collections, loc *time.Location, clock quartz.Clock) *Importer {
	if loc == nil {
		loc = time.Local
	}
	return &Importer{store: store, cols: cols, loc: loc, clock: clock}
}

// ImportFromJSON reads a Backup from r and upserts every valid entry.
// Invalid entries are reported in the result and skipped. A store error
// aborts the import.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if len(backup.Samples) == 0 && len(backup.Daily) == 0 {
		return nil, ErrEmptyBackup
	}

	now := im.clock.Now()
	result := &ImportResult{ImportedAt: now.UTC()}

	for i, s := range backup.Samples {
		if err := validateSample(s, now); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sample %d: %v", i, err))
			continue
		}
		s.Timestamp = s.Timestamp.UTC()
		if s.Label == "" {
			s.Label = model.TimeLabel(s.Timestamp, im.loc)
		}
		if err := im.store.Upsert(ctx, im.cols.History, s.Key(), s); err != nil {
			return nil, fmt.Errorf("failed to write sample %d: %w", i, err)
		}
		result.SamplesImported++
	}

	for i, d := range backup.Daily {
		if err := validateDaily(d); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("daily %d: %v", i, err))
			continue
		}
		if err := im.store.Upsert(ctx, im.cols.Daily, d.Date, d.DailyAverage); err != nil {
			return nil, fmt.Errorf("failed to write daily average %s: %w", d.Date, err)
		}
		result.DailyImported++
	}

	return result, nil
}

func validateSample(s model.Sample, now time.Time) error {
	if s.Count < 0 {
		return fmt.Errorf("negative count %d", s.Count)
	}
	if s.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}
	if s.Timestamp.Before(now.Add(-maxImportAge)) {
		return fmt.Errorf("timestamp too far in past: %s", s.Timestamp)
	}
	if s.Timestamp.After(now.Add(maxImportSkew)) {
		return fmt.Errorf("timestamp too far in future: %s", s.Timestamp)
	}
	return nil
}

func validateDaily(d DailyRecord) error {
	if _, err := time.Parse("2006-01-02", d.Date); err != nil {
		return fmt.Errorf("invalid date %q", d.Date)
	}
	if d.AverageUsers < 0 {
		return fmt.Errorf("negative average %d", d.AverageUsers)
	}
	if d.EntryCount <= 0 {
		return fmt.Errorf("entry count must be positive, got %d", d.EntryCount)
	}
	return nil
}
