package domain

import "time"

type (
	SessionID string
	CallKind  string
	CallState string
)

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallAudio || k == CallVideo
}

const (
	StatePending  CallState = "pending"
	StateActive   CallState = "active"
	StateEnded    CallState = "ended"
	StateRejected CallState = "rejected"
	StateCanceled CallState = "canceled"
	StateMissed   CallState = "missed"
)

// Terminal reports whether no further transitions are allowed.
func (s CallState) Terminal() bool {
	switch s {
	case StateEnded, StateRejected, StateCanceled, StateMissed:
		return true
	default:
		return false
	}
}

// CallStatus is the outcome stored in the durable call log.
type CallStatus string

const (
	StatusAccepted CallStatus = "accepted"
	StatusRejected CallStatus = "rejected"
	StatusMissed   CallStatus = "missed"
	StatusCanceled CallStatus = "canceled"
)

// Status maps a lifecycle state onto the durable outcome. A session that
// never left pending is recorded as missed.
func (s CallState) Status() CallStatus {
	switch s {
	case StateActive, StateEnded:
		return StatusAccepted
	case StateRejected:
		return StatusRejected
	case StateCanceled:
		return StatusCanceled
	default:
		return StatusMissed
	}
}

// Party is one side of a call.
type Party struct {
	ID      UserID  `json:"userId"`
	Profile Profile `json:"profile"`
}

// CallSession is one call attempt from initiation to terminal resolution.
type CallSession struct {
	ID         SessionID `json:"sessionId"`
	Caller     Party     `json:"caller"`
	Callee     Party     `json:"callee"`
	Kind       CallKind  `json:"callKind"`
	State      CallState `json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
	ResolvedAt time.Time `json:"resolvedAt,omitzero"`
}

// Involves reports whether uid is the caller or the callee.
func (s *CallSession) Involves(uid UserID) bool {
	return s.Caller.ID == uid || s.Callee.ID == uid
}

// Peer returns the other party relative to uid.
func (s *CallSession) Peer(uid UserID) UserID {
	if s.Caller.ID == uid {
		return s.Callee.ID
	}
	return s.Caller.ID
}

// CallRecord is the persisted history row for one session.
type CallRecord struct {
	SessionID      SessionID  `json:"sessionId"`
	CallerID       UserID     `json:"callerId"`
	CallerName     string     `json:"callerName"`
	CallerAvatar   string     `json:"callerAvatar"`
	ReceiverID     UserID     `json:"receiverId"`
	ReceiverName   string     `json:"receiverName"`
	ReceiverAvatar string     `json:"receiverAvatar"`
	Kind           CallKind   `json:"callKind"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Status         CallStatus `json:"status"`
}

// NewCallRecord builds the initial record for a freshly opened session.
func NewCallRecord(s *CallSession) CallRecord {
	return CallRecord{
		SessionID:      s.ID,
		CallerID:       s.Caller.ID,
		CallerName:     s.Caller.Profile.Name,
		CallerAvatar:   s.Caller.Profile.Avatar,
		ReceiverID:     s.Callee.ID,
		ReceiverName:   s.Callee.Profile.Name,
		ReceiverAvatar: s.Callee.Profile.Avatar,
		Kind:           s.Kind,
		StartTime:      s.CreatedAt,
		Status:         StatusMissed,
	}
}

// CallUpdate is a partial change to a stored record. Nil fields are kept.
type CallUpdate struct {
	Status    *CallStatus
	StartTime *time.Time
	EndTime   *time.Time
}
