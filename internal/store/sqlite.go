package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/seedcheck/validator-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite for local runs.
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
CREATE TABLE IF NOT EXISTS validations (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	idea_text     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'processing',
	overall_score INTEGER NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	validation_id TEXT PRIMARY KEY REFERENCES validations(id),
	report        TEXT NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_cache (
	keyword    TEXT PRIMARY KEY,
	entry      TEXT NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_usage (
	user_id TEXT PRIMARY KEY,
	used    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_validations_user ON validations(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_validations_status ON validations(status);
CREATE INDEX IF NOT EXISTS idx_evidence_cache_expires ON evidence_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateValidation(ctx context.Context, req model.ValidationRequest) (*model.ValidationRecord, error) {
	now := time.Now().UTC()
	rec := &model.ValidationRecord{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		IdeaText:  req.IdeaText,
		Mode:      req.Mode,
		Status:    model.StatusProcessing,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validations (id, user_id, idea_text, mode, status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.IdeaText, string(rec.Mode), string(rec.Status), rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert validation")
	}
	return rec, nil
}

func (s *SQLiteStore) GetValidation(ctx context.Context, id string) (*model.ValidationRecord, error) {
	var rec model.ValidationRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, idea_text, mode, status, overall_score, version, created_at, updated_at
		 FROM validations WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.IdeaText, &rec.Mode, &rec.Status, &rec.OverallScore, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.Ef(model.KindNotFound, "validation %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get validation")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListValidations(ctx context.Context, filter ValidationFilter) ([]model.ValidationRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, idea_text, mode, status, overall_score, version, created_at, updated_at
		 FROM validations
		 WHERE (? = '' OR user_id = ?) AND (? = '' OR status = ?)
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		filter.UserID, filter.UserID, string(filter.Status), string(filter.Status), limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list validations")
	}
	defer rows.Close()

	var out []model.ValidationRecord
	for rows.Next() {
		var rec model.ValidationRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.IdeaText, &rec.Mode, &rec.Status, &rec.OverallScore, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validation")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus, score int, expectedVersion int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE validations
		 SET status = ?, overall_score = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = 'processing' AND version = ?`,
		string(status), score, time.Now().UTC(), id, expectedVersion,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, getErr := s.GetValidation(ctx, id); getErr != nil {
			return getErr
		}
		return model.Ef(model.KindConflict, "validation %s not in processing state at version %d", id, expectedVersion)
	}
	return nil
}

func (s *SQLiteStore) UpsertReport(ctx context.Context, report *model.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (validation_id, report, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (validation_id) DO UPDATE SET report = excluded.report, updated_at = excluded.updated_at`,
		report.ValidationID, string(payload), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert report")
}

func (s *SQLiteStore) GetReport(ctx context.Context, validationID string) (*model.Report, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM reports WHERE validation_id = ?`, validationID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.Ef(model.KindNotFound, "report for validation %s not found", validationID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get report")
	}

	var report model.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &report, nil
}

func (s *SQLiteStore) GetCachedEvidence(ctx context.Context, keyword string) (*CachedEvidence, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM evidence_cache WHERE keyword = ? AND expires_at > ?`,
		keyword, time.Now().UTC(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached evidence")
	}

	var entry CachedEvidence
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached evidence")
	}
	return &entry, nil
}

func (s *SQLiteStore) SetCachedEvidence(ctx context.Context, entry CachedEvidence, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cached evidence")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence_cache (keyword, entry, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (keyword) DO UPDATE SET entry = excluded.entry, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		entry.Keyword, string(payload), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached evidence")
}

func (s *SQLiteStore) CheckAndConsume(ctx context.Context, userID string, limit int) (bool, error) {
	// A non-positive limit means the free tier is off; the INSERT path would
	// otherwise grant a first call the ON CONFLICT guard never sees.
	if limit <= 0 {
		return false, nil
	}
	var used int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO quota_usage (user_id, used) VALUES (?, 1)
		 ON CONFLICT (user_id) DO UPDATE SET used = used + 1
		 WHERE quota_usage.used < ?
		 RETURNING used`,
		userID, limit,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check and consume quota")
	}
	return true, nil
}

func (s *SQLiteStore) QuotaUsed(ctx context.Context, userID string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM quota_usage WHERE user_id = ?`, userID,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: quota used")
	}
	return used, nil
}
