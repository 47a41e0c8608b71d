package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ncolesummers/multi-research/pkg/domain"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id          TEXT PRIMARY KEY,
	topic       TEXT NOT NULL,
	providers   JSONB NOT NULL,
	settings    JSONB NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_tasks (
	session_id   TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
	provider     TEXT NOT NULL,
	position     INT NOT NULL,
	model        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	thinking     TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, provider)
);

CREATE TABLE IF NOT EXISTS master_reports (
	session_id     TEXT PRIMARY KEY REFERENCES research_sessions(id) ON DELETE CASCADE,
	content        TEXT NOT NULL,
	thinking       TEXT NOT NULL DEFAULT '',
	sources        JSONB NOT NULL,
	merge_provider TEXT NOT NULL DEFAULT '',
	fallback       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS research_sessions_created_at_idx ON research_sessions (created_at DESC);
`

const taskColumns = `session_id, provider, model, status, content, thinking, error, started_at, completed_at, updated_at`

// PostgresConfig configures the connection pool
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// PostgresStore is a PostgreSQL implementation of domain.SessionStore
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects, pings and ensures the schema exists
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Close releases the pool
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// withTx runs fn in a transaction, rolling back if fn fails
func (p *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CreateSession stores the session and one PENDING task per provider
func (p *PostgresStore) CreateSession(ctx context.Context, session *domain.ResearchSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	record := newSessionRecord(session, p.now())
	providers, err := json.Marshal(record.session.Providers)
	if err != nil {
		return fmt.Errorf("failed to marshal providers: %w", err)
	}
	settings, err := json.Marshal(record.session.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	return p.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO research_sessions (id, topic, providers, settings, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			record.session.ID, record.session.Topic, providers, settings,
			string(record.session.Status), record.session.CreatedAt, record.session.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", domain.ErrSessionExists, session.ID)
			}
			return fmt.Errorf("inserting session: %w", err)
		}

		for i, provider := range record.session.Providers {
			task := record.tasks[provider]
			_, err := tx.Exec(ctx,
				`INSERT INTO provider_tasks (session_id, provider, position, model, status, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				task.SessionID, string(task.Provider), i, task.Model, string(task.Status), task.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("inserting task %s: %w", provider, err)
			}
		}
		return nil
	})
}

// GetSession loads a session by id
func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (*domain.ResearchSession, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, topic, providers, settings, status, created_at, updated_at
		 FROM research_sessions WHERE id = $1`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return session, nil
}

// ListSessions returns sessions matching the filter, newest first
func (p *PostgresStore) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.ResearchSession, error) {
	query := `SELECT id, topic, providers, settings, status, created_at, updated_at FROM research_sessions`
	var args []any

	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		query += ` WHERE status = ANY($1)`
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.ResearchSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus sets the overall session status
func (p *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.Status) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE research_sessions SET status = $2, updated_at = $3 WHERE id = $1`,
		sessionID, string(status), p.now())
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return nil
}

// GetProviderTask loads one provider task
func (p *PostgresStore) GetProviderTask(ctx context.Context, sessionID string, provider domain.ProviderID) (*domain.ProviderTask, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM provider_tasks WHERE session_id = $1 AND provider = $2`,
		sessionID, string(provider))

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrTaskNotFound, sessionID, provider)
		}
		return nil, err
	}
	return task, nil
}

// ListProviderTasks loads every task of a session in provider order
func (p *PostgresStore) ListProviderTasks(ctx context.Context, sessionID string) ([]*domain.ProviderTask, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM provider_tasks WHERE session_id = $1 ORDER BY position`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing provider tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.ProviderTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateProviderTask locks the task row, applies fn and writes the result
func (p *PostgresStore) UpdateProviderTask(ctx context.Context, sessionID string, provider domain.ProviderID, fn func(*domain.ProviderTask) error) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM provider_tasks WHERE session_id = $1 AND provider = $2 FOR UPDATE`,
			sessionID, string(provider))

		task, err := scanTask(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s/%s", domain.ErrTaskNotFound, sessionID, provider)
			}
			return err
		}

		if err := fn(task); err != nil {
			return err
		}
		task.UpdatedAt = p.now()

		_, err = tx.Exec(ctx,
			`UPDATE provider_tasks
			 SET model = $3, status = $4, content = $5, thinking = $6, error = $7,
			     started_at = $8, completed_at = $9, updated_at = $10
			 WHERE session_id = $1 AND provider = $2`,
			sessionID, string(provider), task.Model, string(task.Status), task.Content,
			task.Thinking, task.Error, task.StartedAt, task.CompletedAt, task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating provider task: %w", err)
		}
		return nil
	})
}

// SaveMasterReport stores or replaces the merged report of a session
func (p *PostgresStore) SaveMasterReport(ctx context.Context, report *domain.MasterReport) error {
	if report == nil {
		return fmt.Errorf("master report is required")
	}
	if _, err := p.GetSession(ctx, report.SessionID); err != nil {
		return err
	}

	sources, err := json.Marshal(report.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO master_reports (session_id, content, thinking, sources, merge_provider, fallback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO UPDATE SET
		   content = EXCLUDED.content, thinking = EXCLUDED.thinking, sources = EXCLUDED.sources,
		   merge_provider = EXCLUDED.merge_provider, fallback = EXCLUDED.fallback,
		   created_at = EXCLUDED.created_at`,
		report.SessionID, report.Content, report.Thinking, sources,
		string(report.MergeProvider), report.Fallback, report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving master report: %w", err)
	}
	return nil
}

// GetMasterReport loads the merged report of a session
func (p *PostgresStore) GetMasterReport(ctx context.Context, sessionID string) (*domain.MasterReport, error) {
	var (
		report        domain.MasterReport
		sources       []byte
		mergeProvider string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT session_id, content, thinking, sources, merge_provider, fallback, created_at
		 FROM master_reports WHERE session_id = $1`, sessionID,
	).Scan(&report.SessionID, &report.Content, &report.Thinking, &sources, &mergeProvider, &report.Fallback, &report.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, serr := p.GetSession(ctx, sessionID); serr != nil {
				return nil, serr
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, sessionID)
		}
		return nil, fmt.Errorf("loading master report: %w", err)
	}

	if err := json.Unmarshal(sources, &report.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	report.MergeProvider = domain.ProviderID(mergeProvider)
	return &report, nil
}

func scanSession(row pgx.Row) (*domain.ResearchSession, error) {
	var (
		session   domain.ResearchSession
		providers []byte
		settings  []byte
		status    string
	)
	if err := row.Scan(&session.ID, &session.Topic, &providers, &settings, &status, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(providers, &session.Providers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal providers: %w", err)
	}
	if err := json.Unmarshal(settings, &session.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	session.Status = domain.Status(status)
	return &session, nil
}

func scanTask(row pgx.Row) (*domain.ProviderTask, error) {
	var (
		task     domain.ProviderTask
		provider string
		status   string
	)
	err := row.Scan(&task.SessionID, &provider, &task.Model, &status, &task.Content, &task.Thinking,
		&task.Error, &task.StartedAt, &task.CompletedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.Provider = domain.ProviderID(provider)
	task.Status = domain.Status(status)
	return &task, nil
}
