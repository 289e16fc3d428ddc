// Package bronze persists the raw offer records of one ingestion date.
//
// A snapshot is a single JSON document per date. Writes go to a temporary file
// in the same directory and are renamed over the previous snapshot, so a
// re-run for the same date replaces the content and readers never observe a
// partial file.
package bronze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	snapshotWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_bronze_writes_total",
		Help: "Total bronze snapshot writes by result",
	}, []string{"result"})

	snapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offers_bronze_snapshot_records",
		Help: "Records in the most recently written bronze snapshot",
	})
)

// DateLayout is the layout of snapshot dates.
const DateLayout = "2006-01-02"

// ErrNotFound is returned when no snapshot exists for a date.
var ErrNotFound = errors.New("bronze snapshot not found")

// Snapshot is the raw record set of one target date.
type Snapshot struct {
	Date      string            `json:"date"`
	RunID     string            `json:"run_id"`
	FetchedAt time.Time         `json:"fetched_at"`
	Records   []json.RawMessage `json:"records"`
}

// Store reads and writes snapshots under a directory.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("bronze directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bronze directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Path returns the snapshot file path for date.
func (s *Store) Path(date string) string {
	return filepath.Join(s.dir, "offers_"+date+".json")
}

// Write replaces the snapshot for snap.Date. Records sharing an offer id are
// collapsed to the first occurrence.
func (s *Store) Write(ctx context.Context, snap *Snapshot) error {
	if err := validateDate(snap.Date); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := *snap
	var dropped int
	out.Records, dropped = Dedup(snap.Records)

	if err := s.writeAtomic(s.Path(snap.Date), &out); err != nil {
		snapshotWritesTotal.WithLabelValues("error").Inc()
		return err
	}

	snapshotWritesTotal.WithLabelValues("success").Inc()
	snapshotRecords.Set(float64(len(out.Records)))

	s.logger.Info().
		Str("date", snap.Date).
		Str("run_id", snap.RunID).
		Int("records", len(out.Records)).
		Int("duplicates", dropped).
		Str("path", s.Path(snap.Date)).
		Msg("Bronze snapshot written")

	return nil
}

func (s *Store) writeAtomic(path string, snap *Snapshot) (err error) {
	tmp, err := os.CreateTemp(s.dir, ".offers-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = json.NewEncoder(tmp).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Read loads the snapshot for date.
func (s *Store) Read(ctx context.Context, date string) (*Snapshot, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path(date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, date)
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", date, err)
	}
	return &snap, nil
}

// Exists reports whether a snapshot exists for date.
func (s *Store) Exists(date string) bool {
	_, err := os.Stat(s.Path(date))
	return err == nil
}

// Dates lists the dates with a snapshot, oldest first.
func (s *Store) Dates() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "offers_*.json"))
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		date := base[len("offers_") : len(base)-len(".json")]
		if validateDate(date) == nil {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// Dedup drops records whose id was already seen. Records without a readable
// id are kept.
func Dedup(records []json.RawMessage) ([]json.RawMessage, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		id := RecordID(r)
		if id != "" {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// RecordID extracts the offer id from a raw record, or "" if absent.
func RecordID(r json.RawMessage) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(r, &head); err != nil {
		return ""
	}
	return head.ID
}

func validateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("invalid snapshot date %q: %w", date, err)
	}
	return nil
}
