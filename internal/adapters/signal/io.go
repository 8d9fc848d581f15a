package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ping.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.OnDisconnect(c)
		ctl.Metrics.ConnClosed()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	deadline := func() time.Time { return time.Now().Add(ctl.opts.PingPeriod * 10 / 9) }
	_ = c.conn.SetReadDeadline(deadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(deadline())
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(deadline())
			ctl.handleSignal(c, data)
		}
	}
}

// Inbound event types.
const (
	msgAnnounce       = "announce-presence"
	msgInitiateCall   = "initiate-call"
	msgCallAccept     = "call-accept"
	msgCallReject     = "call-reject"
	msgCallCancel     = "call-cancel"
	msgCancelCall     = "cancel-call"
	msgRelayOffer     = "relay-offer"
	msgRelayAnswer    = "relay-answer"
	msgRelayCandidate = "relay-candidate"
	msgMediaToggle    = "media-toggle"
	msgEndCall        = "end-call"
	msgPing           = "ping"
)

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_json")
		return
	}

	switch env.Type {
	case msgAnnounce:
		ctl.handleAnnounce(c, data)
	case msgInitiateCall:
		ctl.handleInitiateCall(c, data)
	case msgCallAccept:
		ctl.handleCallAccept(c, data)
	case msgCallReject:
		ctl.handleCallReject(c, data)
	case msgCallCancel, msgCancelCall:
		ctl.handleCallCancel(c, data)
	case msgEndCall:
		ctl.handleEndCall(c, data)
	case msgRelayOffer, msgRelayAnswer, msgRelayCandidate:
		ctl.handleRelay(c, env.Type, data)
	case msgMediaToggle:
		ctl.handleMediaToggle(c, data)
	case msgPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		return
	}
	ctl.Metrics.Signal(env.Type)
}

// decode unmarshals and validates a payload, answering bad_payload on
// failure.
func (ctl *SignalWSController) decode(c *WsSignalConn, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad payload")
		ctl.sendError(c, "bad_payload")
		return false
	}
	if err := ctl.validate.Struct(v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("invalid payload")
		ctl.sendError(c, "bad_payload")
		return false
	}
	return true
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": code,
	})
}

type profilePayload struct {
	Name   string `json:"name" validate:"max=64"`
	Avatar string `json:"avatar" validate:"max=512"`
}

func (p profilePayload) domain() domain.Profile {
	return domain.Profile{Name: p.Name, Avatar: p.Avatar}
}
