package orch

import (
	"encoding/json"

	"github.com/dkeye/CallRelay/internal/domain"
)

// Outbound event types.
const (
	EventOnlineUsers      = "online-users"
	EventIncomingCall     = "incoming-call"
	EventCallInitiated    = "call-initiated"
	EventCallError        = "call-error"
	EventCallAccepted     = "call-accepted"
	EventCallRejected     = "call-rejected"
	EventCallCancelled    = "call-cancelled"
	EventCallMissed       = "call-missed"
	EventRemoteMediaState = "remote-media-state"
	EventEndCall          = "end-call"
	EventError            = "error"

	EventRelayOffer     = "relay-offer"
	EventRelayAnswer    = "relay-answer"
	EventRelayCandidate = "relay-candidate"
)

// Error codes carried by call-error and error events.
const (
	CodeTargetUnreachable = "target_unreachable"
	CodeCallInFlight      = "call_in_flight"
	CodeInvalidCall       = "invalid_call"
	CodeNotAnnounced      = "not_announced"
	CodeInternal          = "internal"
)

type OnlineUsers struct {
	Type  string        `json:"type"`
	Users []domain.User `json:"users"`
}

type IncomingCall struct {
	Type          string           `json:"type"`
	SessionID     domain.SessionID `json:"sessionId"`
	CallerID      domain.UserID    `json:"callerId"`
	CallerProfile domain.Profile   `json:"callerProfile"`
	CallKind      domain.CallKind  `json:"callKind"`
}

type CallInitiated struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	CalleeID  domain.UserID    `json:"calleeId"`
}

type CallError struct {
	Type     string        `json:"type"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	CalleeID domain.UserID `json:"calleeId,omitempty"`
}

type CallAccepted struct {
	Type          string           `json:"type"`
	SessionID     domain.SessionID `json:"sessionId"`
	CalleeProfile domain.Profile   `json:"calleeProfile"`
}

// CallResolved covers call-rejected, call-cancelled and call-missed.
type CallResolved struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
}

type EndCall struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	From      domain.UserID    `json:"from"`
}

// Relay carries an opaque WebRTC payload; it is never decoded here.
type Relay struct {
	Type    string          `json:"type"`
	From    domain.UserID   `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type RemoteMediaState struct {
	Type    string        `json:"type"`
	From    domain.UserID `json:"from"`
	Kind    string        `json:"kind"`
	Enabled bool          `json:"enabled"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
