package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/school-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS schools (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL DEFAULT '',
	source_urls     TEXT NOT NULL DEFAULT '[]',
	last_scraped_at INTEGER
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	school_id         TEXT NOT NULL REFERENCES schools(id),
	extracted_at      INTEGER NOT NULL,
	attempt_count     INTEGER NOT NULL,
	validation_status TEXT NOT NULL,
	empty_document    INTEGER NOT NULL DEFAULT 0,
	model             TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	record            TEXT NOT NULL,
	issues            TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_results_school_time ON extraction_results(school_id, extracted_at);
`

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RegisterSchool implements Store.
func (s *SQLiteStore) RegisterSchool(ctx context.Context, school model.School) error {
	if school.ID == "" {
		return eris.New("sqlite: empty school id")
	}
	urls, err := json.Marshal(nonNil(school.SourceURLs))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source urls")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schools (id, name, source_urls) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, source_urls = excluded.source_urls`,
		school.ID, school.Name, string(urls),
	)
	return eris.Wrapf(err, "sqlite: register school %s", school.ID)
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, schoolID string, res *model.ExtractionResult) error {
	if err := checkPut(schoolID, res); err != nil {
		return err
	}
	stored := stamp(schoolID, res)
	record, issues, err := encodeResult(stored)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin put")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schools (id) VALUES (?)`, schoolID); err != nil {
		return eris.Wrapf(err, "sqlite: ensure school %s", schoolID)
	}
	nanos := stored.ExtractedAt.UnixNano()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extraction_results
		 (school_id, extracted_at, attempt_count, validation_status, empty_document, model, error, record, issues)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schoolID, nanos, stored.AttemptCount, string(stored.Status), stored.EmptyDocument,
		stored.Model, stored.Error, record, issues,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert result for %s", schoolID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE schools SET last_scraped_at = ? WHERE id = ? AND (last_scraped_at IS NULL OR last_scraped_at < ?)`,
		nanos, schoolID, nanos,
	); err != nil {
		return eris.Wrapf(err, "sqlite: touch school %s", schoolID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit put")
}

const sqliteResultColumns = `school_id, extracted_at, attempt_count, validation_status, empty_document, model, error, record, issues`

// GetLatest implements Store.
func (s *SQLiteStore) GetLatest(ctx context.Context, schoolID string) (*model.ExtractionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteResultColumns+` FROM extraction_results
		 WHERE school_id = ?
		 ORDER BY validation_status IN ('valid', 'repaired') DESC, extracted_at DESC, id DESC
		 LIMIT 1`, schoolID)
	res, err := scanSQLiteResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "sqlite: %s", schoolID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get latest %s", schoolID)
	}
	if !res.Succeeded() {
		return res, eris.Wrapf(model.ErrNoSuccessfulExtraction, "sqlite: %s", schoolID)
	}
	return res, nil
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, schoolID string) ([]*model.ExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteResultColumns+` FROM extraction_results WHERE school_id = ? ORDER BY id`, schoolID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history %s", schoolID)
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.ExtractionResult
	for rows.Next() {
		res, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan history %s", schoolID)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: history rows %s", schoolID)
	}
	if len(out) == 0 {
		if _, err := s.GetSchool(ctx, schoolID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListSchools implements Store.
func (s *SQLiteStore) ListSchools(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM schools ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list schools")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan school id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list schools rows")
}

// GetSchool implements Store.
func (s *SQLiteStore) GetSchool(ctx context.Context, schoolID string) (*model.School, error) {
	var (
		school  model.School
		urls    string
		scraped sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, source_urls, last_scraped_at FROM schools WHERE id = ?`, schoolID,
	).Scan(&school.ID, &school.Name, &urls, &scraped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "sqlite: %s", schoolID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get school %s", schoolID)
	}
	if err := json.Unmarshal([]byte(urls), &school.SourceURLs); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode source urls for %s", schoolID)
	}
	if scraped.Valid {
		t := time.Unix(0, scraped.Int64).UTC()
		school.LastScrapedAt = &t
	}
	return &school, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteResult(row scannable) (*model.ExtractionResult, error) {
	var (
		res            model.ExtractionResult
		nanos          int64
		status         string
		record, issues string
	)
	if err := row.Scan(&res.SchoolID, &nanos, &res.AttemptCount, &status, &res.EmptyDocument,
		&res.Model, &res.Error, &record, &issues); err != nil {
		return nil, err
	}
	res.ExtractedAt = time.Unix(0, nanos).UTC()
	res.Status = model.ValidationStatus(status)
	if err := decodeResult(&res, []byte(record), []byte(issues)); err != nil {
		return nil, err
	}
	return &res, nil
}

func encodeResult(res *model.ExtractionResult) (record, issues string, err error) {
	rb, err := json.Marshal(res.Record)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal record")
	}
	ib, err := json.Marshal(nonNil(res.Issues))
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal issues")
	}
	return string(rb), string(ib), nil
}

func decodeResult(res *model.ExtractionResult, record, issues []byte) error {
	if err := json.Unmarshal(record, &res.Record); err != nil {
		return eris.Wrap(err, "store: decode record")
	}
	if err := json.Unmarshal(issues, &res.Issues); err != nil {
		return eris.Wrap(err, "store: decode issues")
	}
	if len(res.Issues) == 0 {
		res.Issues = nil
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
