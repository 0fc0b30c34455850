package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/internal/model"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	zip        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	decision   TEXT NOT NULL DEFAULT 'PENDING',
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS step_outcomes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	pass       TEXT NOT NULL,
	cost_usd   REAL NOT NULL DEFAULT 0,
	outcome    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tier_attempts (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	gap_kind   TEXT NOT NULL,
	zip        TEXT NOT NULL,
	cost_usd   REAL NOT NULL DEFAULT 0,
	attempt    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS events (
	id      TEXT PRIMARY KEY,
	run_id  TEXT NOT NULL,
	pass    TEXT,
	kind    TEXT NOT NULL,
	payload TEXT,
	ts      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS capability_profiles (
	jurisdiction_id TEXT PRIMARY KEY,
	profile         TEXT NOT NULL,
	version         INTEGER NOT NULL,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_zip ON runs(zip);
CREATE INDEX IF NOT EXISTS idx_step_outcomes_run_id ON step_outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_tier_attempts_run_id ON tier_attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, site model.Site) (*model.OpportunityRecord, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, zip, status, decision, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, site.Zip, string(rec.Status), string(rec.Decision), string(recordJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, record = json_set(record, '$.status', ?), updated_at = ? WHERE id = ?`,
		string(status), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *model.OpportunityRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, decision = ?, record = ?, updated_at = ? WHERE id = ?`,
		string(rec.Status), string(rec.Decision), string(recordJSON), rec.UpdatedAt, rec.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save record %s", rec.RunID)
	}
	return checkRowsAffected(res, "run", rec.RunID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.OpportunityRecord, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM runs WHERE id = ?`, runID,
	).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "run", Key: runID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	var rec model.OpportunityRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.OpportunityRecord, error) {
	query := `SELECT record FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Zip != "" {
		query += ` AND zip = ?`
		args = append(args, filter.Zip)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var recs []model.OpportunityRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var rec model.OpportunityRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendStepOutcome(ctx context.Context, runID string, step model.StepOutcome) error {
	outcomeJSON, err := json.Marshal(step)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal step outcome")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_outcomes (run_id, pass, cost_usd, outcome, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, string(step.Pass), step.CostUSD, string(outcomeJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: append step outcome for run %s", runID)
}

func (s *SQLiteStore) ListStepOutcomes(ctx context.Context, runID string) ([]model.StepOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome FROM step_outcomes WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list step outcomes")
	}
	defer rows.Close()

	var steps []model.StepOutcome
	for rows.Next() {
		var outcomeJSON string
		if err := rows.Scan(&outcomeJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step outcome")
		}
		var step model.StepOutcome
		if err := json.Unmarshal([]byte(outcomeJSON), &step); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal step outcome")
		}
		steps = append(steps, step)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list step outcomes iterate")
}

func (s *SQLiteStore) AppendTierAttempt(ctx context.Context, runID string, gap model.GapRequest, attempt model.TierAttempt) error {
	attemptJSON, err := json.Marshal(attempt)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tier attempt")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tier_attempts (run_id, gap_kind, zip, cost_usd, attempt, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(gap.Kind), gap.Zip, attempt.CostUSD, string(attemptJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: append tier attempt for run %s", runID)
}

func (s *SQLiteStore) ListTierAttempts(ctx context.Context, runID string) ([]model.TierAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt FROM tier_attempts WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tier attempts")
	}
	defer rows.Close()

	var attempts []model.TierAttempt
	for rows.Next() {
		var attemptJSON string
		if err := rows.Scan(&attemptJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tier attempt")
		}
		var att model.TierAttempt
		if err := json.Unmarshal([]byte(attemptJSON), &att); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal tier attempt")
		}
		attempts = append(attempts, att)
	}
	return attempts, eris.Wrap(rows.Err(), "sqlite: list tier attempts iterate")
}

func (s *SQLiteStore) RunSpend(ctx context.Context, runID string) (float64, error) {
	var spend float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT SUM(cost_usd) FROM tier_attempts WHERE run_id = ?), 0)
		      + COALESCE((SELECT SUM(cost_usd) FROM step_outcomes WHERE run_id = ?), 0)`,
		runID, runID,
	).Scan(&spend)
	return spend, eris.Wrapf(err, "sqlite: run spend %s", runID)
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.Event) error {
	var payloadJSON []byte
	if ev.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(ev.Payload)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal event payload")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, run_id, pass, kind, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, string(ev.Pass), ev.Kind, nullableString(payloadJSON), ev.Timestamp,
	)
	return eris.Wrap(err, "sqlite: append event")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, pass, kind, payload, ts FROM events WHERE run_id = ? ORDER BY ts, id`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var pass string
		var payloadJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &pass, &ev.Kind, &payloadJSON, &ev.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		ev.Pass = model.Pass(pass)
		if payloadJSON.Valid {
			if err := json.Unmarshal([]byte(payloadJSON.String), &ev.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event payload")
			}
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) GetProfile(ctx context.Context, jurisdictionID string) (*capability.Profile, error) {
	var profileJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile FROM capability_profiles WHERE jurisdiction_id = ?`, jurisdictionID,
	).Scan(&profileJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile %s", jurisdictionID)
	}

	var p capability.Profile
	if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal profile")
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, jurisdictionID string, p capability.Profile, expectedVersion int) error {
	profileJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	now := time.Now().UTC()

	if expectedVersion == 0 {
		// First write for this jurisdiction. A concurrent creator wins
		// the primary-key race; surface that as a version conflict.
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO capability_profiles (jurisdiction_id, profile, version, updated_at) VALUES (?, ?, ?, ?)`,
			jurisdictionID, string(profileJSON), p.Metadata.Version, now,
		)
		if err != nil {
			actual, readErr := s.profileVersion(ctx, jurisdictionID)
			if readErr == nil {
				return &model.ConflictError{JurisdictionID: jurisdictionID, ExpectedVersion: expectedVersion, ActualVersion: actual}
			}
			return eris.Wrapf(err, "sqlite: insert profile %s", jurisdictionID)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE capability_profiles SET profile = ?, version = ?, updated_at = ? WHERE jurisdiction_id = ? AND version = ?`,
		string(profileJSON), p.Metadata.Version, now, jurisdictionID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update profile %s", jurisdictionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		actual, readErr := s.profileVersion(ctx, jurisdictionID)
		if readErr != nil {
			return eris.Wrapf(readErr, "sqlite: profile version %s", jurisdictionID)
		}
		return &model.ConflictError{JurisdictionID: jurisdictionID, ExpectedVersion: expectedVersion, ActualVersion: actual}
	}
	return nil
}

func (s *SQLiteStore) profileVersion(ctx context.Context, jurisdictionID string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM capability_profiles WHERE jurisdiction_id = ?`, jurisdictionID,
	).Scan(&v)
	return v, err
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
