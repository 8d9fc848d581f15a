package calllog

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
)

var _ core.CallLog = (*Memory)(nil)

// Memory keeps records for the life of the process.
type Memory struct {
	mu      sync.RWMutex
	records map[domain.SessionID]*domain.CallRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[domain.SessionID]*domain.CallRecord)}
}

func (m *Memory) Create(_ context.Context, rec domain.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.SessionID]; ok {
		return fmt.Errorf("call record %s already exists", rec.SessionID)
	}
	m.records[rec.SessionID] = &rec
	return nil
}

func (m *Memory) Update(_ context.Context, id domain.SessionID, upd domain.CallUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	applyUpdate(rec, upd)
	return nil
}

func (m *Memory) History(_ context.Context, uid domain.UserID, limit int) ([]domain.CallRecord, error) {
	m.mu.RLock()
	out := make([]domain.CallRecord, 0)
	for _, rec := range m.records {
		if rec.CallerID == uid || rec.ReceiverID == uid {
			out = append(out, *rec)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns a single record.
func (m *Memory) Get(id domain.SessionID) (domain.CallRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.CallRecord{}, false
	}
	return *rec, true
}

func (m *Memory) Close() error { return nil }
