// Package api implements the Coordinator's REST transport: JWT-authenticated
// JSON routes over TransferRequests, Bundles, Metadata, and component status,
// plus unauthenticated /healthz, /readyz, and /metrics endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wipac/ltacoord/pkg/coordinator"
	"github.com/wipac/ltacoord/pkg/log"
)

// Server wraps a Coordinator behind an HTTP listener.
type Server struct {
	coord *coordinator.Coordinator
	http  *http.Server
}

// NewServer builds a Server bound to addr, wiring the full route table from
// NewRouter. keyFunc resolves the JWT signing key used to verify bearer
// tokens on every authenticated route.
func NewServer(coord *coordinator.Coordinator, addr string, keyFunc jwt.Keyfunc) *Server {
	return &Server{
		coord: coord,
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(coord, keyFunc),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start listens and serves until the process is stopped or ListenAndServe
// returns a fatal error. It blocks, matching net/http.Server.ListenAndServe.
func (s *Server) Start() error {
	log.Logger.Info().Str("addr", s.http.Addr).Msg("coordinator api listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests before closing the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
