package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jbweber/homelab/ipamd/internal/config"
	"github.com/jbweber/homelab/ipamd/internal/ipam"
)

// API wires the handler groups to the IPAM service
type API struct {
	svc *ipam.Service
	cfg *config.Config
}

// NewAPI creates a new API instance over svc
func NewAPI(svc *ipam.Service, cfg *config.Config) *API {
	return &API{svc: svc, cfg: cfg}
}

// actorFor resolves the operator named by the fronting proxy. Admins listed
// in the configuration are privileged.
func (a *API) actorFor(r *http.Request) ipam.Actor {
	name := strings.TrimSpace(r.Header.Get(RemoteUserHeader))
	return ipam.Actor{Name: name, Privileged: name != "" && a.cfg.IsAdmin(name)}
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v0", func(r chi.Router) {
		// Subnets endpoints group
		subnets := NewSubnets(a.svc, a.actorFor)
		r.Route("/subnets", subnets.RegisterRoutes)

		// Servers endpoints group
		servers := NewServers(a.svc, a.actorFor)
		r.Route("/servers", servers.RegisterRoutes)

		// Ledger endpoints group
		ledger := NewLedger(a.svc, a.actorFor)
		r.Route("/ipam", ledger.RegisterRoutes)

		audit := NewAudit(a.svc)
		r.Get("/audit", audit.AuditTrailHandler)

		// Agent push, bearer token protected
		agent := NewAgent(a.svc, a.cfg.AgentToken)
		r.Post("/agent/push", agent.PushHandler)
	})
}

// NewRouter builds the service router with request logging and panic recovery
func NewRouter(a *API) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	a.RegisterRoutes(r)

	// Health check endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "ipamd is running"); err != nil {
			log.Printf("failed to write response: %v", err)
		}
	})
	return r
}
