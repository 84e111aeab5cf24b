package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/seedcheck/validator-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (tests use pgxmock here).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS validations (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	idea_text     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'processing',
	overall_score INT NOT NULL DEFAULT 0,
	version       INT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
	validation_id TEXT PRIMARY KEY REFERENCES validations(id),
	report        JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS evidence_cache (
	keyword    TEXT PRIMARY KEY,
	entry      JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_usage (
	user_id TEXT PRIMARY KEY,
	used    INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_validations_user ON validations(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_validations_status ON validations(status);
CREATE INDEX IF NOT EXISTS idx_evidence_cache_expires ON evidence_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateValidation(ctx context.Context, req model.ValidationRequest) (*model.ValidationRecord, error) {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO validations (id, user_id, idea_text, mode, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.UserID, rec.IdeaText, string(rec.Mode), string(rec.Status), rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert validation")
	}
	return rec, nil
}

func (s *PostgresStore) GetValidation(ctx context.Context, id string) (*model.ValidationRecord, error) {
	var rec model.ValidationRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, idea_text, mode, status, overall_score, version, created_at, updated_at
		 FROM validations WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.IdeaText, &rec.Mode, &rec.Status, &rec.OverallScore, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.Ef(model.KindNotFound, "validation %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get validation")
	}
	return &rec, nil
}

func (s *PostgresStore) ListValidations(ctx context.Context, filter ValidationFilter) ([]model.ValidationRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, idea_text, mode, status, overall_score, version, created_at, updated_at
		 FROM validations
		 WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		filter.UserID, string(filter.Status), limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list validations")
	}
	defer rows.Close()

	var out []model.ValidationRecord
	for rows.Next() {
		var rec model.ValidationRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.IdeaText, &rec.Mode, &rec.Status, &rec.OverallScore, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus, score int, expectedVersion int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validations
		 SET status = $1, overall_score = $2, version = version + 1, updated_at = now()
		 WHERE id = $3 AND status = 'processing' AND version = $4`,
		string(status), score, id, expectedVersion,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update status")
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already terminal / concurrently modified.
		if _, getErr := s.GetValidation(ctx, id); getErr != nil {
			return getErr
		}
		return model.Ef(model.KindConflict, "validation %s not in processing state at version %d", id, expectedVersion)
	}
	return nil
}

func (s *PostgresStore) UpsertReport(ctx context.Context, report *model.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (validation_id, report, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (validation_id) DO UPDATE SET report = EXCLUDED.report, updated_at = now()`,
		report.ValidationID, payload,
	)
	return eris.Wrap(err, "postgres: upsert report")
}

func (s *PostgresStore) GetReport(ctx context.Context, validationID string) (*model.Report, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM reports WHERE validation_id = $1`, validationID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.Ef(model.KindNotFound, "report for validation %s not found", validationID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get report")
	}

	var report model.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &report, nil
}

func (s *PostgresStore) GetCachedEvidence(ctx context.Context, keyword string) (*CachedEvidence, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entry FROM evidence_cache WHERE keyword = $1 AND expires_at > now()`, keyword,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached evidence")
	}

	var entry CachedEvidence
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached evidence")
	}
	return &entry, nil
}

func (s *PostgresStore) SetCachedEvidence(ctx context.Context, entry CachedEvidence, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cached evidence")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO evidence_cache (keyword, entry, cached_at, expires_at) VALUES ($1, $2, now(), now() + $3::interval)
		 ON CONFLICT (keyword) DO UPDATE SET entry = EXCLUDED.entry, cached_at = now(), expires_at = EXCLUDED.expires_at`,
		entry.Keyword, payload, ttl.String(),
	)
	return eris.Wrap(err, "postgres: set cached evidence")
}

func (s *PostgresStore) CheckAndConsume(ctx context.Context, userID string, limit int) (bool, error) {
	// A non-positive limit means the free tier is off; the INSERT path would
	// otherwise grant a first call the ON CONFLICT guard never sees.
	if limit <= 0 {
		return false, nil
	}
	// Compare-and-increment in a single statement so two concurrent runs
	// cannot both pass a quota check that only one should pass.
	var used int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quota_usage (user_id, used) VALUES ($1, 1)
		 ON CONFLICT (user_id) DO UPDATE SET used = quota_usage.used + 1
		 WHERE quota_usage.used < $2
		 RETURNING used`,
		userID, limit,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: check and consume quota")
	}
	return true, nil
}

func (s *PostgresStore) QuotaUsed(ctx context.Context, userID string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM quota_usage WHERE user_id = $1`, userID,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: quota used")
	}
	return used, nil
}
