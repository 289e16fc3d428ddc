package silver

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// CSVSink writes one <relation>.csv per relation under <dir>/<date>/.
//
// Fields are quoted per RFC 4180, so delimiters, quotes and line feeds are
// kept as-is. encoding/csv folds CR LF inside quoted fields to LF on read,
// so carriage returns and backslashes are escaped as \r and \\.
type CSVSink struct {
	dir    string
	logger zerolog.Logger
}

var (
	cellEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`)
	cellUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r")
)

// NewCSVSink creates a sink rooted at dir.
func NewCSVSink(dir string, logger zerolog.Logger) (*CSVSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("csv directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}
	return &CSVSink{dir: dir, logger: logger}, nil
}

// Dir returns the directory holding the tables of date.
func (s *CSVSink) Dir(date string) string {
	return filepath.Join(s.dir, date)
}

// Replace writes every relation into a fresh directory and swaps it in for
// the previous content of date.
func (s *CSVSink) Replace(ctx context.Context, date string, t *Tables) (err error) {
	tmp, err := os.MkdirTemp(s.dir, ".tmp-"+date+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(tmp)
		}
	}()

	for _, rel := range Relations {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = writeRelation(filepath.Join(tmp, rel.Name+".csv"), rel, t); err != nil {
			return err
		}
	}

	target := s.Dir(date)
	var old string
	if _, statErr := os.Stat(target); statErr == nil {
		old = filepath.Join(s.dir, ".old-"+date+"-"+filepath.Base(tmp))
		if err = os.Rename(target, old); err != nil {
			return fmt.Errorf("move previous tables: %w", err)
		}
	}
	if err = os.Rename(tmp, target); err != nil {
		if old != "" {
			os.Rename(old, target)
		}
		return fmt.Errorf("replace tables: %w", err)
	}
	if old != "" {
		os.RemoveAll(old)
	}

	s.logger.Info().
		Str("date", date).
		Str("path", target).
		Int("records", len(t.Offers)).
		Int("rows", t.RowCount()).
		Msg("Silver CSV tables written")

	return nil
}

// Close implements Sink.
func (s *CSVSink) Close() error { return nil }

func writeRelation(path string, rel Relation, t *Tables) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", rel.Name, err)
	}

	w := csv.NewWriter(f)
	werr := w.Write(rel.Columns)
	record := make([]string, len(rel.Columns))
	for i, n := 0, rel.Len(t); i < n && werr == nil; i++ {
		for j, v := range rel.row(t, i) {
			record[j] = formatCell(v)
		}
		werr = w.Write(record)
	}
	w.Flush()
	if werr == nil {
		werr = w.Error()
	}
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write %s: %w", rel.Name, werr)
	}
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case string:
		return cellEscaper.Replace(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// ReadCSV reads back the rows of one relation for date, without the header.
// String cells are returned exactly as they were before writing.
func (s *CSVSink) ReadCSV(date, relation string) ([][]string, error) {
	rel, ok := RelationByName(relation)
	if !ok {
		return nil, fmt.Errorf("unknown relation %q", relation)
	}

	f, err := os.Open(filepath.Join(s.Dir(date), relation+".csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(rel.Columns)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relation, err)
	}
	if len(records) == 0 {
		return nil, errors.New("missing header")
	}
	for i, col := range records[0] {
		if col != rel.Columns[i] {
			return nil, fmt.Errorf("%s: column %d is %q, want %q", relation, i, col, rel.Columns[i])
		}
	}

	rows := records[1:]
	for _, row := range rows {
		for j := range row {
			row[j] = cellUnescaper.Replace(row[j])
		}
	}
	return rows, nil
}
