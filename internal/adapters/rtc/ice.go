// Package rtc builds the WebRTC configuration handed to clients. The relay
// itself never opens peer connections.
package rtc

import (
	"fmt"

	"github.com/dkeye/CallRelay/internal/config"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{defaultSTUN},
			},
		},
	}
}

// ICEServers converts configured servers, falling back to the public
// STUN server when none are configured. Every URL must parse as a
// stun/stuns/turn/turns URI.
func ICEServers(servers []config.ICEServer) ([]webrtc.ICEServer, error) {
	if len(servers) == 0 {
		return DefaultWebRTCConfig().ICEServers, nil
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, s := range servers {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("ice_servers[%d]: no urls", i)
		}
		needsCreds := false
		for _, raw := range s.URLs {
			u, err := stun.ParseURI(raw)
			if err != nil {
				return nil, fmt.Errorf("ice_servers[%d]: %q: %w", i, raw, err)
			}
			if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
				needsCreds = true
			}
		}
		if needsCreds && (s.Username == "" || s.Credential == "") {
			return nil, fmt.Errorf("ice_servers[%d]: turn server requires username and credential", i)
		}
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out, nil
}
