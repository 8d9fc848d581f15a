package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type journalOp struct {
	id     domain.SessionID
	create *domain.CallRecord
	update domain.CallUpdate
}

// journal serializes writes to the call log on one goroutine so that a
// session's create always lands before its updates.
type journal struct {
	store   core.CallLog
	timeout time.Duration
	ops     chan journalOp
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newJournal(store core.CallLog, queue int, timeout time.Duration) *journal {
	if queue <= 0 {
		queue = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	j := &journal{
		store:   store,
		timeout: timeout,
		ops:     make(chan journalOp, queue),
		done:    make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *journal) create(rec domain.CallRecord) {
	j.enqueue(journalOp{id: rec.SessionID, create: &rec})
}

func (j *journal) update(id domain.SessionID, upd domain.CallUpdate) {
	j.enqueue(journalOp{id: id, update: upd})
}

func (j *journal) enqueue(op journalOp) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		log.Warn().Str("module", "app.journal").Str("session", string(op.id)).Msg("journal closed, write dropped")
		return
	}
	select {
	case j.ops <- op:
	default:
		log.Error().Str("module", "app.journal").Str("session", string(op.id)).Msg("journal queue full, write dropped")
	}
}

func (j *journal) run() {
	defer close(j.done)
	for op := range j.ops {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		var err error
		if op.create != nil {
			err = j.store.Create(ctx, *op.create)
		} else {
			err = j.store.Update(ctx, op.id, op.update)
		}
		cancel()
		if err != nil {
			log.Error().Err(err).Str("module", "app.journal").Str("session", string(op.id)).Msg("call log write failed")
		}
	}
}

// drain stops accepting writes and waits for queued ones to finish.
func (j *journal) drain(ctx context.Context) error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.ops)
	}
	j.mu.Unlock()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
