package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/system"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

var userWebsocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebClientWebsocket serves one browser for the lifetime of its
// socket. The browser gets a fresh id; it never chooses its own.
func (s *RelayServer) handleWebClientWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := userWebsocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		log.Error().Err(err).Msg("error upgrading web client websocket")
		return
	}

	conn := s.newConn(system.GenerateBrowserID(), ws)
	defer conn.Close()

	log.Debug().
		Str("browser_id", conn.ID()).
		Str("remote_addr", r.RemoteAddr).
		Msg("web client websocket connected")

	go conn.writePump()

	s.relay.OnBrowserConnect(conn)
	conn.readPump(types.ChannelBrowserToRelay, s.Cfg.WebServer.MaxMessageBytes, func(ev types.Event) {
		s.relay.OnBrowserEvent(conn.ID(), ev)
	})
	s.relay.OnBrowserDisconnect(conn.ID())

	log.Debug().Str("browser_id", conn.ID()).Msg("web client websocket disconnected")
}

func (s *RelayServer) newConn(id string, ws *websocket.Conn) *wsConn {
	return newWSConn(id, ws, s.Cfg.WebServer.SendQueueSize, s.Cfg.WebServer.PingInterval)
}
