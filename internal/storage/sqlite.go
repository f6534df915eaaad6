package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"pushbot/internal/push"
	logx "pushbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	auditKeep  int
	auditCount atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and upserts of the
	// same tuple must not interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, auditKeep: cfg.AuditKeep, pruneEvery: 200}
	if st.auditKeep <= 0 {
		st.auditKeep = defaultAuditKeep
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("storage opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const definitionColumns = `id, actor_id, target_type, target_id, handler_key, parameter,
	cron_expression, run_at, enabled, description, created_at, updated_at`

func (s *sqliteStore) Upsert(ctx context.Context, def push.TaskDefinition) (push.TaskDefinition, error) {
	if s == nil || s.db == nil {
		return push.TaskDefinition{}, ErrClosed
	}
	def.Tuple = def.Tuple.Normalize()
	now := time.Now().UnixMilli()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO push_definitions(actor_id, target_type, target_id, handler_key, parameter,
			cron_expression, run_at, enabled, description, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(actor_id, target_type, target_id, handler_key) DO UPDATE SET
			parameter = excluded.parameter,
			cron_expression = excluded.cron_expression,
			run_at = excluded.run_at,
			enabled = excluded.enabled,
			description = excluded.description,
			updated_at = excluded.updated_at
		 RETURNING `+definitionColumns,
		def.ActorID, string(def.TargetType), def.TargetID, def.HandlerKey, nullJSON(def.Parameter),
		def.CronExpression, unixMilli(def.RunAt), def.Enabled, def.Description, now, now,
	)
	return scanDefinition(row)
}

func (s *sqliteStore) FindByTuple(ctx context.Context, t push.Tuple) (push.TaskDefinition, bool, error) {
	if s == nil || s.db == nil {
		return push.TaskDefinition{}, false, ErrClosed
	}
	t = t.Normalize()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM push_definitions
		 WHERE actor_id = ? AND target_type = ? AND target_id = ? AND handler_key = ?`,
		t.ActorID, string(t.TargetType), t.TargetID, t.HandlerKey,
	)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return push.TaskDefinition{}, false, nil
	}
	if err != nil {
		return push.TaskDefinition{}, false, err
	}
	return def, true, nil
}

func (s *sqliteStore) Delete(ctx context.Context, t push.Tuple) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	t = t.Normalize()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM push_definitions
		 WHERE actor_id = ? AND target_type = ? AND target_id = ? AND handler_key = ?`,
		t.ActorID, string(t.TargetType), t.TargetID, t.HandlerKey,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ListByActorAndTarget(ctx context.Context, actorID int64, targetType push.TargetType, targetID int64) ([]push.TaskDefinition, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionColumns+` FROM push_definitions
		 WHERE actor_id = ? AND target_type = ? AND target_id = ?
		 ORDER BY handler_key`,
		actorID, string(targetType), targetID,
	)
	if err != nil {
		return nil, err
	}
	return collectDefinitions(rows)
}

func (s *sqliteStore) List(ctx context.Context) ([]push.TaskDefinition, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+definitionColumns+` FROM push_definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectDefinitions(rows)
}

func (s *sqliteStore) SetEnabled(ctx context.Context, t push.Tuple, enabled bool) (push.TaskDefinition, bool, error) {
	if s == nil || s.db == nil {
		return push.TaskDefinition{}, false, ErrClosed
	}
	t = t.Normalize()
	row := s.db.QueryRowContext(ctx,
		`UPDATE push_definitions SET enabled = ?, updated_at = ?
		 WHERE actor_id = ? AND target_type = ? AND target_id = ? AND handler_key = ?
		 RETURNING `+definitionColumns,
		enabled, time.Now().UnixMilli(), t.ActorID, string(t.TargetType), t.TargetID, t.HandlerKey,
	)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return push.TaskDefinition{}, false, nil
	}
	if err != nil {
		return push.TaskDefinition{}, false, err
	}
	return def, true, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e push.AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_audit(at, action, actor_id, target_type, target_id, handler_key, job_id, requested_by, detail)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.Action, e.Tuple.ActorID, string(e.Tuple.TargetType), e.Tuple.TargetID,
		e.Tuple.HandlerKey, e.JobID, e.RequestedBy, nullStr(e.Detail),
	)
	if err == nil && s.auditCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneAudit(pctx); perr != nil {
			s.log.Debug("audit prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]push.AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, action, actor_id, target_type, target_id, handler_key, job_id, requested_by, detail
		 FROM push_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []push.AuditEntry
	for rows.Next() {
		var (
			e      push.AuditEntry
			at     int64
			tt     string
			detail sql.NullString
		)
		if err := rows.Scan(&at, &e.Action, &e.Tuple.ActorID, &tt, &e.Tuple.TargetID,
			&e.Tuple.HandlerKey, &e.JobID, &e.RequestedBy, &detail); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		e.Tuple.TargetType = push.TargetType(tt)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneAudit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_audit WHERE id <= (SELECT MAX(id) FROM push_audit) - ?`, s.auditKeep)
	return err
}

func (s *sqliteStore) SaveTrigger(ctx context.Context, r TriggerRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_triggers(job_id, cron, run_at, payload, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET
			cron = excluded.cron, run_at = excluded.run_at,
			payload = excluded.payload, updated_at = excluded.updated_at`,
		r.JobID, r.Cron, unixMilli(r.At), r.Payload, r.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteTrigger(ctx context.Context, jobID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_triggers WHERE job_id = ?`, jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) LoadTriggers(ctx context.Context) ([]TriggerRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, cron, run_at, payload, updated_at FROM push_triggers ORDER BY job_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var (
			r              TriggerRecord
			runAt, updated int64
		)
		if err := rows.Scan(&r.JobID, &r.Cron, &runAt, &r.Payload, &updated); err != nil {
			return nil, err
		}
		r.At = fromUnixMilli(runAt)
		r.UpdatedAt = time.UnixMilli(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (push.TaskDefinition, error) {
	var (
		d                           push.TaskDefinition
		tt                          string
		param                       sql.NullString
		runAt, createdAt, updatedAt int64
	)
	err := row.Scan(&d.ID, &d.ActorID, &tt, &d.TargetID, &d.HandlerKey, &param,
		&d.CronExpression, &runAt, &d.Enabled, &d.Description, &createdAt, &updatedAt)
	if err != nil {
		return push.TaskDefinition{}, err
	}
	d.TargetType = push.TargetType(tt)
	if param.Valid {
		d.Parameter = json.RawMessage(param.String)
	}
	d.RunAt = fromUnixMilli(runAt)
	d.CreatedAt = time.UnixMilli(createdAt)
	d.UpdatedAt = time.UnixMilli(updatedAt)
	return d, nil
}

func collectDefinitions(rows *sql.Rows) ([]push.TaskDefinition, error) {
	defer rows.Close()
	var out []push.TaskDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullJSON(raw json.RawMessage) any {
	t := strings.TrimSpace(string(raw))
	if t == "" || t == "null" {
		return nil
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
