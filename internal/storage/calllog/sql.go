package calllog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
)

var _ core.CallLog = (*SQL)(nil)

// Dialect holds the statements that differ between databases.
type Dialect struct {
	Name    string
	Schema  []string
	Insert  string
	Update  string
	History string
	// historyArgs adapts (uid, limit) to the placeholder style.
	historyArgs func(uid domain.UserID, limit int) []any
}

var Postgres = Dialect{
	Name: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			session_id      TEXT PRIMARY KEY,
			caller_id       TEXT NOT NULL,
			caller_name     TEXT NOT NULL DEFAULT '',
			caller_avatar   TEXT NOT NULL DEFAULT '',
			receiver_id     TEXT NOT NULL,
			receiver_name   TEXT NOT NULL DEFAULT '',
			receiver_avatar TEXT NOT NULL DEFAULT '',
			call_kind       TEXT NOT NULL,
			start_time      TIMESTAMPTZ NOT NULL,
			end_time        TIMESTAMPTZ,
			status          TEXT NOT NULL DEFAULT 'missed'
		)`,
		`CREATE INDEX IF NOT EXISTS call_records_caller_idx ON call_records (caller_id, start_time DESC)`,
		`CREATE INDEX IF NOT EXISTS call_records_receiver_idx ON call_records (receiver_id, start_time DESC)`,
	},
	Insert: `INSERT INTO call_records (session_id, caller_id, caller_name, caller_avatar,
		receiver_id, receiver_name, receiver_avatar, call_kind, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	Update: `UPDATE call_records SET
		status = COALESCE($2, status),
		start_time = COALESCE($3, start_time),
		end_time = COALESCE($4, end_time)
		WHERE session_id = $1`,
	History: `SELECT session_id, caller_id, caller_name, caller_avatar,
		receiver_id, receiver_name, receiver_avatar, call_kind, start_time, end_time, status
		FROM call_records WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY start_time DESC, session_id DESC LIMIT $2`,
	historyArgs: func(uid domain.UserID, limit int) []any { return []any{string(uid), limit} },
}

var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			session_id      TEXT PRIMARY KEY,
			caller_id       TEXT NOT NULL,
			caller_name     TEXT NOT NULL DEFAULT '',
			caller_avatar   TEXT NOT NULL DEFAULT '',
			receiver_id     TEXT NOT NULL,
			receiver_name   TEXT NOT NULL DEFAULT '',
			receiver_avatar TEXT NOT NULL DEFAULT '',
			call_kind       TEXT NOT NULL,
			start_time      DATETIME NOT NULL,
			end_time        DATETIME,
			status          TEXT NOT NULL DEFAULT 'missed'
		)`,
		`CREATE INDEX IF NOT EXISTS call_records_caller_idx ON call_records (caller_id, start_time DESC)`,
		`CREATE INDEX IF NOT EXISTS call_records_receiver_idx ON call_records (receiver_id, start_time DESC)`,
	},
	Insert: `INSERT INTO call_records (session_id, caller_id, caller_name, caller_avatar,
		receiver_id, receiver_name, receiver_avatar, call_kind, start_time, end_time, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	Update: `UPDATE call_records SET
		status = COALESCE(?, status),
		start_time = COALESCE(?, start_time),
		end_time = COALESCE(?, end_time)
		WHERE session_id = ?`,
	History: `SELECT session_id, caller_id, caller_name, caller_avatar,
		receiver_id, receiver_name, receiver_avatar, call_kind, start_time, end_time, status
		FROM call_records WHERE caller_id = ? OR receiver_id = ?
		ORDER BY start_time DESC, session_id DESC LIMIT ?`,
	historyArgs: func(uid domain.UserID, limit int) []any { return []any{string(uid), string(uid), limit} },
}

// SQL is a call log on database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL creates the schema if needed.
func NewSQL(ctx context.Context, db *sql.DB, d Dialect) (*SQL, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s schema: %w", d.Name, err)
		}
	}
	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Create(ctx context.Context, rec domain.CallRecord) error {
	var end sql.NullTime
	if rec.EndTime != nil {
		end = sql.NullTime{Time: rec.EndTime.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Insert,
		string(rec.SessionID), string(rec.CallerID), rec.CallerName, rec.CallerAvatar,
		string(rec.ReceiverID), rec.ReceiverName, rec.ReceiverAvatar, string(rec.Kind),
		rec.StartTime.UTC(), end, string(rec.Status),
	)
	if err != nil {
		return fmt.Errorf("insert call record %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *SQL) Update(ctx context.Context, id domain.SessionID, upd domain.CallUpdate) error {
	var (
		status sql.NullString
		start  sql.NullTime
		end    sql.NullTime
	)
	if upd.Status != nil {
		status = sql.NullString{String: string(*upd.Status), Valid: true}
	}
	if upd.StartTime != nil {
		start = sql.NullTime{Time: upd.StartTime.UTC(), Valid: true}
	}
	if upd.EndTime != nil {
		end = sql.NullTime{Time: upd.EndTime.UTC(), Valid: true}
	}

	var args []any
	if s.dialect.Name == SQLite.Name {
		args = []any{status, start, end, string(id)}
	} else {
		args = []any{string(id), status, start, end}
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Update, args...)
	if err != nil {
		return fmt.Errorf("update call record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update call record %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQL) History(ctx context.Context, uid domain.UserID, limit int) ([]domain.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.History, s.dialect.historyArgs(uid, limit)...)
	if err != nil {
		return nil, fmt.Errorf("call history %s: %w", uid, err)
	}
	defer rows.Close()

	out := make([]domain.CallRecord, 0)
	for rows.Next() {
		var (
			rec                  domain.CallRecord
			id, caller, receiver string
			kind, status         string
			end                  sql.NullTime
		)
		if err := rows.Scan(&id, &caller, &rec.CallerName, &rec.CallerAvatar,
			&receiver, &rec.ReceiverName, &rec.ReceiverAvatar, &kind,
			&rec.StartTime, &end, &status); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.SessionID = domain.SessionID(id)
		rec.CallerID = domain.UserID(caller)
		rec.ReceiverID = domain.UserID(receiver)
		rec.Kind = domain.CallKind(kind)
		rec.Status = domain.CallStatus(status)
		if end.Valid {
			t := end.Time
			rec.EndTime = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQL) Close() error {
	return s.db.Close()
}
