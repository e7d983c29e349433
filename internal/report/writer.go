// Package report writes the audit run's two outputs: the append-only
// tabular trail of audit rows, and the statistics document serialized once
// at the end of the run.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/entitykit/entity-audit/internal/stats"
	"github.com/entitykit/entity-audit/internal/types"
)

// TrailExt and StatsExt are appended to the output root path to derive the
// two output files.
const (
	TrailExt = ".csv"
	StatsExt = ".json"
)

// trailHeader is the fixed column order of the audit trail.
var trailHeader = []string{
	"audit_id",
	"category",
	"status",
	"data_source",
	"record_id",
	"prior_cluster_id",
	"prior_score",
	"newer_cluster_id",
	"newer_score",
}

// TrailWriter streams audit events to the tabular trail file. Each event is
// flushed as a unit, so an interrupted run leaves a valid file containing
// only complete events.
type TrailWriter struct {
	f *os.File
	w *csv.Writer
}

// NewTrailWriter creates (or truncates) the trail file and writes the
// header row.
func NewTrailWriter(path string) (*TrailWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating audit trail %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(trailHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing trail header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing trail header: %w", err)
	}

	return &TrailWriter{f: f, w: w}, nil
}

// WriteEvent appends all rows of one audit event and flushes them together.
func (t *TrailWriter) WriteEvent(rows []types.AuditRow) error {
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.AuditID),
			r.Category,
			string(r.Status),
			r.DataSource,
			r.RecordID,
			r.PriorClusterID,
			r.PriorScore,
			r.NewerClusterID,
			r.NewerScore,
		}
		if err := t.w.Write(record); err != nil {
			return fmt.Errorf("writing audit row: %w", err)
		}
	}
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		return fmt.Errorf("flushing audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (t *TrailWriter) Close() error {
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}

// WriteStats serializes the finalized StatPack to the statistics document,
// overwriting it in one shot.
func WriteStats(path string, pack *stats.StatPack) error {
	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing statistics: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing statistics to %s: %w", path, err)
	}
	return nil
}
