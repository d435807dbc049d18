package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Upsert(ctx context.Context, rec Record) error {
	if rec.Key == "" {
		return errors.New("session key is empty")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(key, session_id, channel, recipient, account_id, input_tokens, output_tokens, cost, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   session_id = CASE WHEN excluded.session_id != '' THEN excluded.session_id ELSE sessions.session_id END,
		   channel    = CASE WHEN excluded.channel != '' THEN excluded.channel ELSE sessions.channel END,
		   recipient  = CASE WHEN excluded.recipient != '' THEN excluded.recipient ELSE sessions.recipient END,
		   account_id = CASE WHEN excluded.account_id != '' THEN excluded.account_id ELSE sessions.account_id END,
		   updated_at = excluded.updated_at`,
		rec.Key, rec.SessionID, rec.Channel, rec.Recipient, rec.AccountID,
		rec.InputTokens, rec.OutputTokens, rec.Cost, rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, error) {
	var (
		rec Record
		at  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, session_id, channel, recipient, account_id, input_tokens, output_tokens, cost, updated_at
		 FROM sessions WHERE key = ?`, key,
	).Scan(&rec.Key, &rec.SessionID, &rec.Channel, &rec.Recipient, &rec.AccountID,
		&rec.InputTokens, &rec.OutputTokens, &rec.Cost, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
	return rec, nil
}

func (s *sqliteStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, session_id, channel, recipient, account_id, input_tokens, output_tokens, cost, updated_at
		 FROM sessions ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			at  string
		)
		if err := rows.Scan(&rec.Key, &rec.SessionID, &rec.Channel, &rec.Recipient, &rec.AccountID,
			&rec.InputTokens, &rec.OutputTokens, &rec.Cost, &at); err != nil {
			return nil, err
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddUsage(ctx context.Context, key string, inTokens, outTokens int64, cost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ?, cost = cost + ?, updated_at = ?
		 WHERE key = ?`,
		inTokens, outTokens, cost, time.Now().Format(time.RFC3339Nano), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO announce_audit(at, key, outcome, batched, err, took_ms) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Key, e.Outcome, e.Batched, nullStr(e.Error), e.TookMS)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
