// Package server is the relay's HTTP front: the agent and web client
// WebSocket endpoints, a health endpoint and the browser assets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/config"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/router"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/server/spa"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/system"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/types"
)

const (
	AgentsPath     = "/agents"
	WebClientsPath = "/web-clients"
	HealthPath     = "/healthz"
)

// Relay is the routing engine the endpoints feed. *router.Router
// implements it.
type Relay interface {
	OnBrowserConnect(conn types.Conn)
	OnBrowserEvent(browserID string, ev types.Event)
	OnBrowserDisconnect(browserID string)
	OnAgentEvent(conn types.Conn, ev types.Event)
	OnAgentDisconnect(conn types.Conn)
	Stats(ctx context.Context) (router.Stats, error)
}

type RelayServer struct {
	Cfg    config.RelayConfig
	relay  Relay
	router *mux.Router
}

func NewServer(cfg config.RelayConfig, relay Relay) *RelayServer {
	s := &RelayServer{
		Cfg:   cfg,
		relay: relay,
	}
	s.router = s.registerRoutes()
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *RelayServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *RelayServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", s.Cfg.WebServer.Host, s.Cfg.WebServer.Port),
		// no read or write timeouts: terminals stay open for hours
		ReadHeaderTimeout: 60 * time.Second,
		Handler:           s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down relay")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down relay: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func matchAllRoutes(*http.Request, *mux.RouteMatch) bool {
	return true
}

func (s *RelayServer) registerRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(errorLoggingMiddleware)

	// agents and health checks are never behind basic auth
	router.HandleFunc(HealthPath, s.health).Methods(http.MethodGet)
	router.HandleFunc(AgentsPath, s.handleAgentWebsocket).Methods(http.MethodGet)

	authRouter := router.MatcherFunc(matchAllRoutes).Subrouter()
	authRouter.Use(newBasicAuthMiddleware(s.Cfg.Auth))
	authRouter.HandleFunc(WebClientsPath, s.handleWebClientWebsocket).Methods(http.MethodGet)
	s.registerDefaultHandler(authRouter)

	return router
}

// Static files router
func (s *RelayServer) registerDefaultHandler(router *mux.Router) {
	staticDir := s.Cfg.WebServer.StaticDir
	if strings.HasPrefix(staticDir, "http://") || strings.HasPrefix(staticDir, "https://") {
		log.Info().Str("frontend", staticDir).Msg("proxying browser assets")
		router.PathPrefix("/").Handler(spa.NewReverseProxyServer(staticDir))
		return
	}
	log.Info().Str("dir", staticDir).Msg("serving browser assets")
	router.PathPrefix("/").Handler(spa.NewFileServer(http.Dir(staticDir)))
}

func (s *RelayServer) health(rw http.ResponseWriter, r *http.Request) {
	stats, err := s.relay.Stats(r.Context())
	if err != nil {
		writeErrResponse(rw, system.NewHTTPError503(err.Error()))
		return
	}
	writeResponse(rw, stats, http.StatusOK)
}

func writeResponse(rw http.ResponseWriter, data interface{}, statusCode int) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)

	if data == nil {
		return
	}

	err := json.NewEncoder(rw).Encode(data)
	if err != nil {
		log.Err(err).Msg("error writing response")
	}
}

func writeErrResponse(rw http.ResponseWriter, httpErr *system.HTTPError) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(httpErr.StatusCode)
	_ = json.NewEncoder(rw).Encode(httpErr)
}
