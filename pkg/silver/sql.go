package silver

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schemaSQL string

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// OpenDB opens a silver database. SQLite connections get foreign keys and a
// busy timeout through the DSN so every pooled connection carries them.
func OpenDB(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		if path, _, _ := strings.Cut(dsn, "?"); path != "" && path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, errors.Wrap(err, "create silver database dir")
			}
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on&_busy_timeout=5000"
	case DriverPostgres:
	default:
		return nil, errors.Newf("unsupported silver driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open silver database")
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping silver database")
	}
	return db, nil
}

// SQLSink writes tables into a relational database, one transaction per date.
type SQLSink struct {
	db     *sql.DB
	driver string
	logger zerolog.Logger
}

// NewSQLSink wraps db. driver selects the placeholder syntax.
func NewSQLSink(db *sql.DB, driver string, logger zerolog.Logger) (*SQLSink, error) {
	if db == nil {
		return nil, errors.New("silver database is required")
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, errors.Newf("unsupported silver driver %q", driver)
	}
	return &SQLSink{db: db, driver: driver, logger: logger}, nil
}

// Migrate creates the thirteen relations if they do not exist.
func (s *SQLSink) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema: %.40s", stmt)
		}
	}
	return nil
}

func schemaStatements() []string {
	var out []string
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Replace deletes the rows of date from every relation and inserts t, in one
// transaction. Children are deleted before the offers they reference.
func (s *SQLSink) Replace(ctx context.Context, date string, t *Tables) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin silver transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for i := len(Relations) - 1; i >= 0; i-- {
		rel := Relations[i]
		if _, err = tx.ExecContext(ctx, s.rebind(fmt.Sprintf("DELETE FROM %s WHERE snapshot_date = ?", rel.Name)), date); err != nil {
			return errors.Wrapf(err, "clear %s for %s", rel.Name, date)
		}
	}

	for _, rel := range Relations {
		if rel.Len(t) == 0 {
			continue
		}
		if err = s.insertRelation(ctx, tx, date, rel, t); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit silver transaction")
	}

	s.logger.Info().
		Str("date", date).
		Str("driver", s.driver).
		Int("records", len(t.Offers)).
		Int("rows", t.RowCount()).
		Msg("Silver tables replaced")

	return nil
}

func (s *SQLSink) insertRelation(ctx context.Context, tx *sql.Tx, date string, rel Relation, t *Tables) error {
	stmt, err := tx.PrepareContext(ctx, s.rebind(insertSQL(rel)))
	if err != nil {
		return errors.Wrapf(err, "prepare insert into %s", rel.Name)
	}
	defer stmt.Close()

	args := make([]any, 0, len(rel.Columns)+1)
	for i, n := 0, rel.Len(t); i < n; i++ {
		args = append(args[:0], date)
		args = append(args, rel.row(t, i)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrapf(err, "insert into %s", rel.Name)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// Count returns the number of rows of relation stored for date.
func (s *SQLSink) Count(ctx context.Context, relation, date string) (int, error) {
	if _, ok := RelationByName(relation); !ok {
		return 0, errors.Newf("unknown relation %q", relation)
	}
	var n int
	q := s.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE snapshot_date = ?", relation))
	if err := s.db.QueryRowContext(ctx, q, date).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", relation)
	}
	return n, nil
}

func insertSQL(rel Relation) string {
	cols := append([]string{"snapshot_date"}, rel.Columns...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", rel.Name, strings.Join(cols, ", "), marks)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLSink) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
