package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/internal/db"
	"github.com/sells-group/sitescope/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":          `INSERT INTO runs (id, zip, status, decision, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_run_status":   `UPDATE runs SET status = $1, record = jsonb_set(record, '{status}', to_jsonb($1::text)), updated_at = $2 WHERE id = $3`,
	"save_record":         `UPDATE runs SET status = $1, decision = $2, record = $3, updated_at = $4 WHERE id = $5`,
	"get_run":             `SELECT record FROM runs WHERE id = $1`,
	"append_step":         `INSERT INTO step_outcomes (run_id, pass, cost_usd, outcome, created_at) VALUES ($1, $2, $3, $4, $5)`,
	"append_tier_attempt": `INSERT INTO tier_attempts (run_id, gap_kind, zip, cost_usd, attempt, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"append_event":        `INSERT INTO events (id, run_id, pass, kind, payload, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_profile":         `SELECT profile FROM capability_profiles WHERE jurisdiction_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., reference-table bulk loads).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	zip        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	decision   TEXT NOT NULL DEFAULT 'PENDING',
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS step_outcomes (
	seq        BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	pass       TEXT NOT NULL,
	cost_usd   DOUBLE PRECISION NOT NULL DEFAULT 0,
	outcome    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tier_attempts (
	seq        BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	gap_kind   TEXT NOT NULL,
	zip        TEXT NOT NULL,
	cost_usd   DOUBLE PRECISION NOT NULL DEFAULT 0,
	attempt    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id      TEXT PRIMARY KEY,
	run_id  TEXT NOT NULL,
	pass    TEXT,
	kind    TEXT NOT NULL,
	payload JSONB,
	ts      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS capability_profiles (
	jurisdiction_id TEXT PRIMARY KEY,
	profile         JSONB NOT NULL,
	version         INTEGER NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_zip ON runs(zip);
CREATE INDEX IF NOT EXISTS idx_step_outcomes_run_id ON step_outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_tier_attempts_run_id ON tier_attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_tier_attempts_run_gap ON tier_attempts(run_id, gap_kind);
CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, site model.Site) (*model.OpportunityRecord, error) {
	now := time.Now().UTC()
	rec := &model.OpportunityRecord{
		RunID:     uuid.New().String(),
		Site:      site,
		Status:    model.RunStatusQueued,
		Decision:  model.DecisionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, zip, status, decision, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RunID, site.Zip, string(rec.Status), string(rec.Decision), recordJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return rec, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, record = jsonb_set(record, '{status}', to_jsonb($1::text)), updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *model.OpportunityRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, decision = $2, record = $3, updated_at = $4 WHERE id = $5`,
		string(rec.Status), string(rec.Decision), recordJSON, rec.UpdatedAt, rec.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save record %s", rec.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", rec.RunID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.OpportunityRecord, error) {
	var recordJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM runs WHERE id = $1`, runID,
	).Scan(&recordJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "run", Key: runID}
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	var rec model.OpportunityRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal record")
	}
	return &rec, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.OpportunityRecord, error) {
	query := `SELECT record FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Zip != "" {
		query += fmt.Sprintf(` AND zip = $%d`, argIdx)
		args = append(args, filter.Zip)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var recs []model.OpportunityRecord
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var rec model.OpportunityRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendStepOutcome(ctx context.Context, runID string, step model.StepOutcome) error {
	outcomeJSON, err := json.Marshal(step)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal step outcome")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO step_outcomes (run_id, pass, cost_usd, outcome, created_at) VALUES ($1, $2, $3, $4, $5)`,
		runID, string(step.Pass), step.CostUSD, outcomeJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: append step outcome for run %s", runID)
}

func (s *PostgresStore) ListStepOutcomes(ctx context.Context, runID string) ([]model.StepOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT outcome FROM step_outcomes WHERE run_id = $1 ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list step outcomes")
	}
	defer rows.Close()

	var steps []model.StepOutcome
	for rows.Next() {
		var outcomeJSON []byte
		if err := rows.Scan(&outcomeJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step outcome")
		}
		var step model.StepOutcome
		if err := json.Unmarshal(outcomeJSON, &step); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal step outcome")
		}
		steps = append(steps, step)
	}
	return steps, eris.Wrap(rows.Err(), "postgres: list step outcomes iterate")
}

func (s *PostgresStore) AppendTierAttempt(ctx context.Context, runID string, gap model.GapRequest, attempt model.TierAttempt) error {
	attemptJSON, err := json.Marshal(attempt)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tier attempt")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tier_attempts (run_id, gap_kind, zip, cost_usd, attempt, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, string(gap.Kind), gap.Zip, attempt.CostUSD, attemptJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: append tier attempt for run %s", runID)
}

func (s *PostgresStore) ListTierAttempts(ctx context.Context, runID string) ([]model.TierAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT attempt FROM tier_attempts WHERE run_id = $1 ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tier attempts")
	}
	defer rows.Close()

	var attempts []model.TierAttempt
	for rows.Next() {
		var attemptJSON []byte
		if err := rows.Scan(&attemptJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tier attempt")
		}
		var att model.TierAttempt
		if err := json.Unmarshal(attemptJSON, &att); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tier attempt")
		}
		attempts = append(attempts, att)
	}
	return attempts, eris.Wrap(rows.Err(), "postgres: list tier attempts iterate")
}

func (s *PostgresStore) RunSpend(ctx context.Context, runID string) (float64, error) {
	var spend float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT SUM(cost_usd) FROM tier_attempts WHERE run_id = $1), 0)
		      + COALESCE((SELECT SUM(cost_usd) FROM step_outcomes WHERE run_id = $1), 0)`,
		runID,
	).Scan(&spend)
	return spend, eris.Wrapf(err, "postgres: run spend %s", runID)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.Event) error {
	var payloadJSON []byte
	if ev.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(ev.Payload)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal event payload")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, run_id, pass, kind, payload, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.RunID, string(ev.Pass), ev.Kind, payloadJSON, ev.Timestamp,
	)
	return eris.Wrap(err, "postgres: append event")
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, pass, kind, payload, ts FROM events WHERE run_id = $1 ORDER BY ts, id`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var pass string
		var payloadJSON []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &pass, &ev.Kind, &payloadJSON, &ev.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Pass = model.Pass(pass)
		if payloadJSON != nil {
			if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal event payload")
			}
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) GetProfile(ctx context.Context, jurisdictionID string) (*capability.Profile, error) {
	var profileJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT profile FROM capability_profiles WHERE jurisdiction_id = $1`, jurisdictionID,
	).Scan(&profileJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get profile %s", jurisdictionID)
	}

	var p capability.Profile
	if err := json.Unmarshal(profileJSON, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal profile")
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, jurisdictionID string, p capability.Profile, expectedVersion int) error {
	profileJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	now := time.Now().UTC()

	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO capability_profiles (jurisdiction_id, profile, version, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (jurisdiction_id) DO NOTHING`,
			jurisdictionID, profileJSON, p.Metadata.Version, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert profile %s", jurisdictionID)
		}
		if tag.RowsAffected() == 0 {
			actual, err := s.profileVersion(ctx, jurisdictionID)
			if err != nil {
				return eris.Wrapf(err, "postgres: profile version %s", jurisdictionID)
			}
			return &model.ConflictError{JurisdictionID: jurisdictionID, ExpectedVersion: expectedVersion, ActualVersion: actual}
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE capability_profiles SET profile = $1, version = $2, updated_at = $3 WHERE jurisdiction_id = $4 AND version = $5`,
		profileJSON, p.Metadata.Version, now, jurisdictionID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update profile %s", jurisdictionID)
	}
	if tag.RowsAffected() == 0 {
		actual, err := s.profileVersion(ctx, jurisdictionID)
		if err != nil {
			return eris.Wrapf(err, "postgres: profile version %s", jurisdictionID)
		}
		return &model.ConflictError{JurisdictionID: jurisdictionID, ExpectedVersion: expectedVersion, ActualVersion: actual}
	}
	return nil
}

func (s *PostgresStore) profileVersion(ctx context.Context, jurisdictionID string) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM capability_profiles WHERE jurisdiction_id = $1`, jurisdictionID,
	).Scan(&v)
	return v, err
}
