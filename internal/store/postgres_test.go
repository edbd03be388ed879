package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/school-intel/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

var resultCols = []string{"school_id", "extracted_at", "attempt_count", "validation_status", "empty_document", "model", "error", "record", "issues"}

func recordJSON(t *testing.T, r *model.ExtractionResult) []byte {
	t.Helper()
	b, err := json.Marshal(r.Record)
	require.NoError(t, err)
	return b
}

func TestPostgresStore_Put(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	in := result("ateneo", model.StatusValid, t0, "2024-2025")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO schools \(id\) VALUES \(\$1\) ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("ateneo").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id FROM schools WHERE id = \$1 FOR UPDATE`).
		WithArgs("ateneo").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("ateneo"))
	mock.ExpectExec(`INSERT INTO extraction_results`).
		WithArgs("ateneo", t0, 2, "valid", false, "test-model", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE schools SET last_scraped_at`).
		WithArgs("ateneo", t0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Put(context.Background(), "ateneo", in))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutRollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO schools`).
		WithArgs("ateneo").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Put(context.Background(), "ateneo", result("ateneo", model.StatusValid, t0, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure school")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatest(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := result("ateneo", model.StatusRepaired, t0, "2024-2025")

	mock.ExpectQuery(`SELECT school_id, extracted_at, .* FROM extraction_results\s+WHERE school_id = \$1\s+ORDER BY \(validation_status IN`).
		WithArgs("ateneo").
		WillReturnRows(pgxmock.NewRows(resultCols).
			AddRow("ateneo", t0, 2, "repaired", false, "test-model", "", recordJSON(t, stored), []byte(`[]`)))

	got, err := s.GetLatest(context.Background(), "ateneo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRepaired, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.True(t, stored.Record.Equal(got.Record))
	assert.Nil(t, got.Issues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatest_OnlyFailed(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := result("ateneo", model.StatusFailed, t0, "")

	mock.ExpectQuery(`FROM extraction_results`).
		WithArgs("ateneo").
		WillReturnRows(pgxmock.NewRows(resultCols).
			AddRow("ateneo", t0, 3, "failed", false, "test-model", "after 3 attempts", recordJSON(t, stored), []byte(`[]`)))

	got, err := s.GetLatest(context.Background(), "ateneo")
	assert.ErrorIs(t, err, model.ErrNoSuccessfulExtraction)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.AttemptCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM extraction_results`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLatest(context.Background(), "nobody")
	assert.ErrorIs(t, err, model.ErrSchoolNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSchools(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM schools ORDER BY seq`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("b").AddRow("a"))

	ids, err := s.ListSchools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RegisterAndGetSchool(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	scraped := t0.Add(time.Hour)

	mock.ExpectExec(`INSERT INTO schools \(id, name, source_urls\)`).
		WithArgs("dlsu", "De La Salle", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id, name, source_urls, last_scraped_at FROM schools WHERE id = \$1`).
		WithArgs("dlsu").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "source_urls", "last_scraped_at"}).
			AddRow("dlsu", "De La Salle", []byte(`["https://dlsu.edu.ph"]`), &scraped))

	ctx := context.Background()
	require.NoError(t, s.RegisterSchool(ctx, model.School{ID: "dlsu", Name: "De La Salle", SourceURLs: []string{"https://dlsu.edu.ph"}}))
	school, err := s.GetSchool(ctx, "dlsu")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://dlsu.edu.ph"}, school.SourceURLs)
	require.NotNil(t, school.LastScrapedAt)
	assert.True(t, school.LastScrapedAt.Equal(scraped))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schools`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
