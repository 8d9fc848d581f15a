package core

import (
	"context"

	"github.com/dkeye/CallRelay/internal/domain"
)

// CallLog is the durable history of call sessions.
// Implementations must be safe for concurrent use.
type CallLog interface {
	Create(ctx context.Context, rec domain.CallRecord) error
	Update(ctx context.Context, id domain.SessionID, upd domain.CallUpdate) error
	// History returns records where uid is caller or receiver, newest first.
	History(ctx context.Context, uid domain.UserID, limit int) ([]domain.CallRecord, error)
	Close() error
}
