package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/system"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

// handleAgentWebsocket serves one agent connection. The agent is unknown to
// the router until it sends agent-register.
func (s *RelayServer) handleAgentWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := userWebsocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("error upgrading agent websocket")
		return
	}

	conn := s.newConn(system.GenerateAgentConnectionID(), ws)
	defer conn.Close()

	log.Debug().
		Str("conn_id", conn.ID()).
		Str("remote_addr", r.RemoteAddr).
		Msg("agent websocket connected")

	go conn.writePump()

	conn.readPump(types.ChannelAgentToRelay, s.Cfg.WebServer.MaxMessageBytes, func(ev types.Event) {
		s.relay.OnAgentEvent(conn, ev)
	})
	s.relay.OnAgentDisconnect(conn)

	log.Debug().Str("conn_id", conn.ID()).Msg("agent websocket disconnected")
}
