package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/ipam"
)

// ServersStore defines the service interface for server handlers
type ServersStore interface {
	Servers(ctx context.Context) ([]domain.Server, error)
	Server(ctx context.Context, id int64) (domain.Server, error)
	SaveServer(ctx context.Context, server domain.Server, actor ipam.Actor) (domain.Server, ipam.Report, error)
	DeleteServer(ctx context.Context, id int64, actor ipam.Actor) (ipam.Report, error)
}

// Servers groups server inventory handlers for testability
type Servers struct {
	store ServersStore
	actor ActorFunc
}

func NewServers(store ServersStore, actor ActorFunc) *Servers {
	return &Servers{store: store, actor: actor}
}

type ServerResponse struct {
	domain.Server
	Reconcile *ipam.Report `json:"reconcile,omitempty"`
}

// RegisterRoutes mounts the server endpoints on r
func (s *Servers) RegisterRoutes(r chi.Router) {
	r.Get("/", s.ListServersHandler)
	r.Post("/", s.CreateServerHandler)
	r.Get("/{id}", s.GetServerHandler)
	r.Put("/{id}", s.UpdateServerHandler)
	r.Delete("/{id}", s.DeleteServerHandler)
}

func (s *Servers) ListServersHandler(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.Servers(r.Context())
	if err != nil {
		writeServiceError(w, err, "list servers")
		return
	}
	if servers == nil {
		servers = []domain.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Servers) GetServerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	server, err := s.store.Server(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get server")
		return
	}
	writeJSON(w, http.StatusOK, ServerResponse{Server: server})
}

// CreateServerHandler handles POST /api/v0/servers.
//
// The server's primary and BMC addresses are recorded in the ledger after the
// save commits. Response: 201 Created with the server and the reconcile report.
func (s *Servers) CreateServerHandler(w http.ResponseWriter, r *http.Request) {
	var server domain.Server
	if err := decodeJSON(r, &server); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	server.ID = 0
	if server.DataSource == "" {
		server.DataSource = "manual"
	}
	s.save(w, r, server, http.StatusCreated)
}

func (s *Servers) UpdateServerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	var server domain.Server
	if err := decodeJSON(r, &server); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	server.ID = id
	s.save(w, r, server, http.StatusOK)
}

func (s *Servers) save(w http.ResponseWriter, r *http.Request, server domain.Server, status int) {
	saved, report, err := s.store.SaveServer(r.Context(), server, s.actor(r))
	if err != nil {
		writeServiceError(w, err, "save server")
		return
	}
	writeJSON(w, status, ServerResponse{Server: saved, Reconcile: &report})
}

func (s *Servers) DeleteServerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	report, err := s.store.DeleteServer(r.Context(), id, s.actor(r))
	if err != nil {
		writeServiceError(w, err, "delete server")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
