package api

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/ipam"
)

// maxPlanBytes bounds a YAML subnet plan upload
const maxPlanBytes = 1 << 20

// SubnetsStore defines the service interface for subnet handlers
type SubnetsStore interface {
	Subnets(ctx context.Context) ([]ipam.SubnetView, error)
	Subnet(ctx context.Context, id int64) (ipam.SubnetView, error)
	SaveSubnet(ctx context.Context, subnet domain.Subnet, actor ipam.Actor) (domain.Subnet, ipam.Report, error)
	DeleteSubnet(ctx context.Context, id int64, actor ipam.Actor) (ipam.Report, error)
	ImportSubnets(ctx context.Context, plan ipam.SubnetPlan, actor ipam.Actor) ([]ipam.ImportResult, error)
	ExportSubnetPlan(ctx context.Context) ([]byte, error)
}

// Subnets groups subnet handlers for testability
type Subnets struct {
	store SubnetsStore
	actor ActorFunc
}

func NewSubnets(store SubnetsStore, actor ActorFunc) *Subnets {
	return &Subnets{store: store, actor: actor}
}

type SubnetRequest struct {
	Name        string   `json:"name"`
	Network     string   `json:"network"`
	VLANID      *int64   `json:"vlan_id,omitempty"`
	Gateway     string   `json:"gateway,omitempty"`
	Description string   `json:"description,omitempty"`
	StaticPools []string `json:"static_pools"`
}

// SubnetResponse is a subnet with its pool summary and the outcome of the
// ledger reconciliation its save triggered
type SubnetResponse struct {
	ipam.SubnetView
	Reconcile *ipam.Report `json:"reconcile,omitempty"`
}

func (req SubnetRequest) subnet(id int64) domain.Subnet {
	return domain.Subnet{
		ID:          id,
		Name:        req.Name,
		Network:     req.Network,
		VLANID:      req.VLANID,
		Gateway:     req.Gateway,
		Description: req.Description,
		StaticPools: req.StaticPools,
	}
}

// RegisterRoutes mounts the subnet endpoints on r
func (s *Subnets) RegisterRoutes(r chi.Router) {
	r.Get("/", s.ListSubnetsHandler)
	r.Post("/", s.CreateSubnetHandler)
	r.Post("/import", s.ImportSubnetsHandler)
	r.Get("/export", s.ExportSubnetsHandler)
	r.Get("/{id}", s.GetSubnetHandler)
	r.Put("/{id}", s.UpdateSubnetHandler)
	r.Delete("/{id}", s.DeleteSubnetHandler)
}

func (s *Subnets) ListSubnetsHandler(w http.ResponseWriter, r *http.Request) {
	subnets, err := s.store.Subnets(r.Context())
	if err != nil {
		writeServiceError(w, err, "list subnets")
		return
	}
	if subnets == nil {
		subnets = []ipam.SubnetView{}
	}
	writeJSON(w, http.StatusOK, subnets)
}

func (s *Subnets) GetSubnetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subnet ID")
		return
	}
	view, err := s.store.Subnet(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get subnet")
		return
	}
	writeJSON(w, http.StatusOK, SubnetResponse{SubnetView: view})
}

// CreateSubnetHandler handles POST /api/v0/subnets.
//
// The static pool is materialized into the ledger after the subnet is stored.
// Response: 201 Created with the subnet, its summary and the reconcile report.
func (s *Subnets) CreateSubnetHandler(w http.ResponseWriter, r *http.Request) {
	var req SubnetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	s.save(w, r, req.subnet(0), http.StatusCreated)
}

func (s *Subnets) UpdateSubnetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subnet ID")
		return
	}
	var req SubnetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	s.save(w, r, req.subnet(id), http.StatusOK)
}

func (s *Subnets) save(w http.ResponseWriter, r *http.Request, subnet domain.Subnet, status int) {
	saved, report, err := s.store.SaveSubnet(r.Context(), subnet, s.actor(r))
	if err != nil {
		writeServiceError(w, err, "save subnet")
		return
	}
	view, err := s.store.Subnet(r.Context(), saved.ID)
	if err != nil {
		writeServiceError(w, err, "get subnet")
		return
	}
	writeJSON(w, status, SubnetResponse{SubnetView: view, Reconcile: &report})
}

func (s *Subnets) DeleteSubnetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subnet ID")
		return
	}
	report, err := s.store.DeleteSubnet(r.Context(), id, s.actor(r))
	if err != nil {
		writeServiceError(w, err, "delete subnet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ImportSubnetsHandler handles POST /api/v0/subnets/import with a YAML plan body.
// Each subnet is reported on individually; the request only fails as a whole
// when the plan cannot be parsed.
func (s *Subnets) ImportSubnetsHandler(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read subnet plan")
		return
	}
	plan, err := ipam.ParseSubnetPlan(data)
	if err != nil {
		writeServiceError(w, err, "parse subnet plan")
		return
	}
	results, err := s.store.ImportSubnets(r.Context(), plan, s.actor(r))
	if err != nil {
		writeServiceError(w, err, "import subnets")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Subnets) ExportSubnetsHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ExportSubnetPlan(r.Context())
	if err != nil {
		writeServiceError(w, err, "export subnets")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("failed to write subnet plan: %v", err)
	}
}
