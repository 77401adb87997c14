// Package server exposes the polled read API: notifications, activity, and
// tenant workflow rule administration. Event publication itself has no
// network surface, it is in-process only.
package server

import (
	"log/slog"

	"github.com/finchops/finch/internal/store"
)

// Server holds the HTTP surface's dependencies.
type Server struct {
	store store.Store
	log   *slog.Logger
}

// New returns a server backed by the given store.
func New(s store.Store, log *slog.Logger) *Server {
	return &Server{store: s, log: log}
}
