package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescope/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT record FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	var nf *model.NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	record := `{"run_id":"run-1","site":{"zip":"28801"},"status":"complete","decision":"GO","spend_usd":0.51}`
	mock.ExpectQuery(`SELECT record FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow([]byte(record)))

	rec, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionGo, rec.Decision)
	assert.Equal(t, "28801", rec.Site.Zip)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusWalked)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProfile_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT profile FROM capability_profiles WHERE jurisdiction_id = \$1`).
		WithArgs("nc-nowhere").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetProfile(context.Background(), "nc-nowhere")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProfile_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE capability_profiles SET profile = \$1`).
		WithArgs(pgxmock.AnyArg(), 3, pgxmock.AnyArg(), "nc-buncombe", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT version FROM capability_profiles WHERE jurisdiction_id = \$1`).
		WithArgs("nc-buncombe").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(4))

	p := testProfile("nc-buncombe", 3)
	err := s.UpsertProfile(context.Background(), "nc-buncombe", p, 2)

	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, conflict.ExpectedVersion)
	assert.Equal(t, 4, conflict.ActualVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProfile_CreateRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO capability_profiles`).
		WithArgs("nc-buncombe", pgxmock.AnyArg(), 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT version FROM capability_profiles WHERE jurisdiction_id = \$1`).
		WithArgs("nc-buncombe").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(1))

	err := s.UpsertProfile(context.Background(), "nc-buncombe", testProfile("nc-buncombe", 1), 0)

	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.ActualVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunSpend(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"spend"}).AddRow(2.51))

	spend, err := s.RunSpend(context.Background(), "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 2.51, spend, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendTierAttempt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO tier_attempts`).
		WithArgs("run-1", "street_rate", "28801", 0.01, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	gap := model.GapRequest{RunID: "run-1", Zip: "28801", Kind: model.DataKindStreetRate}
	err := s.AppendTierAttempt(context.Background(), "run-1", gap, model.TierAttempt{
		Tier: 1, Tool: "ai_rate_search", CostUSD: 0.01, Outcome: model.TierOutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
