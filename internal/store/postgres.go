package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/school-intel/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS schools (
	seq             BIGSERIAL,
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	source_urls     JSONB NOT NULL DEFAULT '[]',
	last_scraped_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id                BIGSERIAL PRIMARY KEY,
	school_id         TEXT NOT NULL REFERENCES schools(id),
	extracted_at      TIMESTAMPTZ NOT NULL,
	attempt_count     INTEGER NOT NULL,
	validation_status TEXT NOT NULL CHECK (validation_status IN ('valid', 'repaired', 'failed')),
	empty_document    BOOLEAN NOT NULL DEFAULT false,
	model             TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	record            JSONB NOT NULL,
	issues            JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_results_school_time ON extraction_results(school_id, extracted_at DESC);
CREATE INDEX IF NOT EXISTS idx_schools_seq ON schools(seq);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// RegisterSchool implements Store.
func (s *PostgresStore) RegisterSchool(ctx context.Context, school model.School) error {
	if school.ID == "" {
		return eris.New("postgres: empty school id")
	}
	urls, err := json.Marshal(nonNil(school.SourceURLs))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source urls")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO schools (id, name, source_urls) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, source_urls = EXCLUDED.source_urls`,
		school.ID, school.Name, urls,
	)
	return eris.Wrapf(err, "postgres: register school %s", school.ID)
}

// Put implements Store. The school row is locked for the duration of the
// transaction, serializing writers of the same school only.
func (s *PostgresStore) Put(ctx context.Context, schoolID string, res *model.ExtractionResult) error {
	if err := checkPut(schoolID, res); err != nil {
		return err
	}
	stored := stamp(schoolID, res)
	record, issues, err := encodeResult(stored)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin put")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO schools (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, schoolID); err != nil {
		return eris.Wrapf(err, "postgres: ensure school %s", schoolID)
	}
	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM schools WHERE id = $1 FOR UPDATE`, schoolID).Scan(&locked); err != nil {
		return eris.Wrapf(err, "postgres: lock school %s", schoolID)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO extraction_results
		 (school_id, extracted_at, attempt_count, validation_status, empty_document, model, error, record, issues)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		schoolID, stored.ExtractedAt, stored.AttemptCount, string(stored.Status), stored.EmptyDocument,
		stored.Model, stored.Error, record, issues,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert result for %s", schoolID)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE schools SET last_scraped_at = GREATEST(COALESCE(last_scraped_at, $2), $2) WHERE id = $1`,
		schoolID, stored.ExtractedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: touch school %s", schoolID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit put")
}

const postgresResultColumns = `school_id, extracted_at, attempt_count, validation_status, empty_document, model, error, record, issues`

// GetLatest implements Store.
func (s *PostgresStore) GetLatest(ctx context.Context, schoolID string) (*model.ExtractionResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresResultColumns+` FROM extraction_results
		 WHERE school_id = $1
		 ORDER BY (validation_status IN ('valid', 'repaired')) DESC, extracted_at DESC, id DESC
		 LIMIT 1`, schoolID)
	res, err := scanPostgresResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "postgres: %s", schoolID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get latest %s", schoolID)
	}
	if !res.Succeeded() {
		return res, eris.Wrapf(model.ErrNoSuccessfulExtraction, "postgres: %s", schoolID)
	}
	return res, nil
}

// History implements Store.
func (s *PostgresStore) History(ctx context.Context, schoolID string) ([]*model.ExtractionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresResultColumns+` FROM extraction_results WHERE school_id = $1 ORDER BY id`, schoolID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history %s", schoolID)
	}
	defer rows.Close()

	var out []*model.ExtractionResult
	for rows.Next() {
		res, err := scanPostgresResult(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan history %s", schoolID)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: history rows %s", schoolID)
	}
	if len(out) == 0 {
		if _, err := s.GetSchool(ctx, schoolID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListSchools implements Store.
func (s *PostgresStore) ListSchools(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM schools ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list schools")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan school id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list schools rows")
}

// GetSchool implements Store.
func (s *PostgresStore) GetSchool(ctx context.Context, schoolID string) (*model.School, error) {
	var (
		school  model.School
		urls    []byte
		scraped *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, source_urls, last_scraped_at FROM schools WHERE id = $1`, schoolID,
	).Scan(&school.ID, &school.Name, &urls, &scraped)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "postgres: %s", schoolID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get school %s", schoolID)
	}
	if err := json.Unmarshal(urls, &school.SourceURLs); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode source urls for %s", schoolID)
	}
	if scraped != nil {
		t := scraped.UTC()
		school.LastScrapedAt = &t
	}
	return &school, nil
}

func scanPostgresResult(row pgx.Row) (*model.ExtractionResult, error) {
	var (
		res            model.ExtractionResult
		status         string
		record, issues []byte
	)
	if err := row.Scan(&res.SchoolID, &res.ExtractedAt, &res.AttemptCount, &status, &res.EmptyDocument,
		&res.Model, &res.Error, &record, &issues); err != nil {
		return nil, err
	}
	res.ExtractedAt = res.ExtractedAt.UTC()
	res.Status = model.ValidationStatus(status)
	if err := decodeResult(&res, record, issues); err != nil {
		return nil, err
	}
	return &res, nil
}
