package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

var _ core.CallLog = (*Redis)(nil)

const keyPrefix = "callrelay"

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr string
	DB   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Redis stores each record as a hash and indexes it per user in a sorted
// set scored by start time.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func recordKey(id domain.SessionID) string {
	return fmt.Sprintf("%s:call:%s", keyPrefix, id)
}

func userKey(uid domain.UserID) string {
	return fmt.Sprintf("%s:user:%s:calls", keyPrefix, uid)
}

func (r *Redis) Create(ctx context.Context, rec domain.CallRecord) error {
	score := float64(rec.StartTime.UnixMilli())
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordKey(rec.SessionID), encodeRecord(rec))
		pipe.ZAdd(ctx, userKey(rec.CallerID), redis.Z{Score: score, Member: string(rec.SessionID)})
		pipe.ZAdd(ctx, userKey(rec.ReceiverID), redis.Z{Score: score, Member: string(rec.SessionID)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create %s: %w", rec.SessionID, err)
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, id domain.SessionID, upd domain.CallUpdate) error {
	key := recordKey(id)
	parties, err := r.rdb.HMGet(ctx, key, "caller_id", "receiver_id").Result()
	if err != nil {
		return fmt.Errorf("redis update %s: %w", id, err)
	}
	caller, _ := parties[0].(string)
	receiver, _ := parties[1].(string)
	if caller == "" {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	fields := encodeUpdate(upd)
	if len(fields) == 0 {
		return nil
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if upd.StartTime != nil {
			score := float64(upd.StartTime.UnixMilli())
			pipe.ZAdd(ctx, userKey(domain.UserID(caller)), redis.Z{Score: score, Member: string(id)})
			pipe.ZAdd(ctx, userKey(domain.UserID(receiver)), redis.Z{Score: score, Member: string(id)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis update %s: %w", id, err)
	}
	return nil
}

func (r *Redis) History(ctx context.Context, uid domain.UserID, limit int) ([]domain.CallRecord, error) {
	ids, err := r.rdb.ZRevRange(ctx, userKey(uid), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history %s: %w", uid, err)
	}
	if len(ids) == 0 {
		return []domain.CallRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, recordKey(domain.SessionID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis history %s: %w", uid, err)
	}

	out := make([]domain.CallRecord, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func encodeRecord(rec domain.CallRecord) map[string]any {
	m := map[string]any{
		"session_id":      string(rec.SessionID),
		"caller_id":       string(rec.CallerID),
		"caller_name":     rec.CallerName,
		"caller_avatar":   rec.CallerAvatar,
		"receiver_id":     string(rec.ReceiverID),
		"receiver_name":   rec.ReceiverName,
		"receiver_avatar": rec.ReceiverAvatar,
		"call_kind":       string(rec.Kind),
		"start_time":      rec.StartTime.UTC().Format(time.RFC3339Nano),
		"end_time":        "",
		"status":          string(rec.Status),
	}
	if rec.EndTime != nil {
		m["end_time"] = rec.EndTime.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func encodeUpdate(upd domain.CallUpdate) map[string]any {
	m := make(map[string]any, 3)
	if upd.Status != nil {
		m["status"] = string(*upd.Status)
	}
	if upd.StartTime != nil {
		m["start_time"] = upd.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if upd.EndTime != nil {
		m["end_time"] = upd.EndTime.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func decodeRecord(f map[string]string) (domain.CallRecord, error) {
	rec := domain.CallRecord{
		SessionID:      domain.SessionID(f["session_id"]),
		CallerID:       domain.UserID(f["caller_id"]),
		CallerName:     f["caller_name"],
		CallerAvatar:   f["caller_avatar"],
		ReceiverID:     domain.UserID(f["receiver_id"]),
		ReceiverName:   f["receiver_name"],
		ReceiverAvatar: f["receiver_avatar"],
		Kind:           domain.CallKind(f["call_kind"]),
		Status:         domain.CallStatus(f["status"]),
	}
	start, err := time.Parse(time.RFC3339Nano, f["start_time"])
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("call record %s start_time: %w", rec.SessionID, err)
	}
	rec.StartTime = start
	if raw := f["end_time"]; raw != "" {
		end, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.CallRecord{}, fmt.Errorf("call record %s end_time: %w", rec.SessionID, err)
		}
		rec.EndTime = &end
	}
	return rec, nil
}
