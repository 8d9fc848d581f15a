// Package calllog stores the durable history of call sessions.
//
// Backends: memory (default, process lifetime only), postgres (pgx),
// sqlite (modernc) and redis. All satisfy core.CallLog.
package calllog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dkeye/CallRelay/internal/config"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
)

var ErrNotFound = errors.New("call record not found")

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CallLogConfig) (core.CallLog, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		db, err := OpenPostgres(ctx, cfg.DSN, PoolConfig{})
		if err != nil {
			return nil, err
		}
		return NewSQL(ctx, db, Postgres)
	case "sqlite":
		db, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQL(ctx, db, SQLite)
	case "redis":
		rdb, err := OpenRedis(ctx, RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		return NewRedis(rdb), nil
	default:
		return nil, fmt.Errorf("unknown call log driver %q", cfg.Driver)
	}
}

// sortNewestFirst orders by start time descending; ties by session id
// keep the order stable.
func sortNewestFirst(recs []domain.CallRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartTime.Equal(recs[j].StartTime) {
			return recs[i].StartTime.After(recs[j].StartTime)
		}
		return recs[i].SessionID > recs[j].SessionID
	})
}

func applyUpdate(rec *domain.CallRecord, upd domain.CallUpdate) {
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.StartTime != nil {
		rec.StartTime = *upd.StartTime
	}
	if upd.EndTime != nil {
		t := *upd.EndTime
		rec.EndTime = &t
	}
}
