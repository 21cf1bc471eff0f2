package api

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/ipam"
	"github.com/jbweber/homelab/ipamd/internal/report"
	"github.com/jbweber/homelab/ipamd/internal/repository"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// LedgerStore defines the service interface for ledger handlers
type LedgerStore interface {
	ListLedger(ctx context.Context, filter repository.LedgerFilter) (ipam.Page, error)
	LedgerStats(ctx context.Context, filter repository.LedgerFilter) (ipam.Stats, error)
	Entry(ctx context.Context, id int64) (domain.LedgerEntry, error)
	Subnets(ctx context.Context) ([]ipam.SubnetView, error)

	Reserve(ctx context.Context, ids []int64, note string, actor ipam.Actor) (ipam.BatchResult, error)
	Release(ctx context.Context, ids []int64, actor ipam.Actor) (ipam.BatchResult, error)
	Edit(ctx context.Context, id int64, note string, actor ipam.Actor) (domain.LedgerEntry, error)
	Delete(ctx context.Context, id int64, actor ipam.Actor) error
	ListMine(ctx context.Context, actor ipam.Actor) ([]domain.LedgerEntry, error)

	ReconcileAll(ctx context.Context, clear bool, actor ipam.Actor) (ipam.Report, error)
}

// Ledger groups allocation ledger handlers for testability
type Ledger struct {
	store LedgerStore
	actor ActorFunc
}

func NewLedger(store LedgerStore, actor ActorFunc) *Ledger {
	return &Ledger{store: store, actor: actor}
}

type ReserveRequest struct {
	IDs  []int64 `json:"ids"`
	Note string  `json:"note"`
}

type ReleaseRequest struct {
	IDs []int64 `json:"ids"`
}

type EditRequest struct {
	Description string `json:"description"`
}

// RegisterRoutes mounts the ledger endpoints on r
func (l *Ledger) RegisterRoutes(r chi.Router) {
	r.Get("/", l.ListLedgerHandler)
	r.Get("/stats", l.StatsHandler)
	r.Get("/mine", l.MineHandler)
	r.Get("/export.xlsx", l.ExportHandler)
	r.Post("/reserve", l.ReserveHandler)
	r.Post("/release", l.ReleaseHandler)
	r.Post("/reconcile", l.ReconcileHandler)
	r.Get("/{id}", l.GetEntryHandler)
	r.Patch("/{id}", l.EditHandler)
	r.Delete("/{id}", l.DeleteHandler)
}

// parseLedgerFilter reads subnet_id, unrouted, status, pool, q, reserved_by,
// limit and offset from the query string
func parseLedgerFilter(r *http.Request) (repository.LedgerFilter, error) {
	q := r.URL.Query()
	filter := repository.LedgerFilter{
		Search:     q.Get("q"),
		ReservedBy: q.Get("reserved_by"),
		Limit:      defaultPageSize,
	}

	if v := q.Get("subnet_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid subnet_id %q", v)
		}
		filter.SubnetID = &id
	}
	if v := q.Get("unrouted"); v != "" {
		unrouted, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid unrouted %q", v)
		}
		filter.Unrouted = unrouted
	}
	if v := q.Get("status"); v != "" {
		status, ok := domain.ParseStatus(strings.ToLower(v))
		if !ok {
			return filter, fmt.Errorf("invalid status %q", v)
		}
		filter.Status = status
	}
	if v := q.Get("pool"); v != "" {
		pool := domain.PoolType(strings.ToLower(v))
		if !pool.Valid() {
			return filter, fmt.Errorf("invalid pool %q", v)
		}
		filter.Pool = pool
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = min(limit, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = offset
	}
	return filter, nil
}

// ListLedgerHandler handles GET /api/v0/ipam.
//
// Rows come back in numeric address order with the unpaged total.
func (l *Ledger) ListLedgerHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLedgerFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := l.store.ListLedger(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "list ledger")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (l *Ledger) StatsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLedgerFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := l.store.LedgerStats(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "count ledger")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (l *Ledger) MineHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := l.store.ListMine(r.Context(), l.actor(r))
	if err != nil {
		writeServiceError(w, err, "list reservations")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ExportHandler handles GET /api/v0/ipam/export.xlsx. The ledger filter applies
// but paging does not: every matching row is exported.
func (l *Ledger) ExportHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLedgerFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit, filter.Offset = 0, 0

	page, err := l.store.ListLedger(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "list ledger")
		return
	}
	subnets, err := l.store.Subnets(r.Context())
	if err != nil {
		writeServiceError(w, err, "list subnets")
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, subnets, page.Entries); err != nil {
		writeServiceError(w, err, "render workbook")
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="ipam-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("failed to write workbook: %v", err)
	}
}

func (l *Ledger) GetEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ledger ID")
		return
	}
	entry, err := l.store.Entry(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get ledger entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ReserveHandler handles POST /api/v0/ipam/reserve.
//
// Request: {"ids": [...], "note": "..."}. The batch is not atomic; the
// response lists succeeded IDs and per-row failures with 200 OK.
func (l *Ledger) ReserveHandler(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}
	result, err := l.store.Reserve(r.Context(), req.IDs, req.Note, l.actor(r))
	if err != nil {
		writeServiceError(w, err, "reserve addresses")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (l *Ledger) ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}
	result, err := l.store.Release(r.Context(), req.IDs, l.actor(r))
	if err != nil {
		writeServiceError(w, err, "release addresses")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (l *Ledger) EditHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ledger ID")
		return
	}
	var req EditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	entry, err := l.store.Edit(r.Context(), id, req.Description, l.actor(r))
	if err != nil {
		writeServiceError(w, err, "edit reservation")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (l *Ledger) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ledger ID")
		return
	}
	if err := l.store.Delete(r.Context(), id, l.actor(r)); err != nil {
		writeServiceError(w, err, "delete ledger entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReconcileHandler handles POST /api/v0/ipam/reconcile?clear=true.
// Only privileged operators may rebuild the ledger.
func (l *Ledger) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	actor := l.actor(r)
	if !actor.Privileged {
		writeError(w, http.StatusForbidden, ipam.ErrPermission.Error())
		return
	}
	clear := false
	if v := r.URL.Query().Get("clear"); v != "" {
		var err error
		if clear, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid clear flag")
			return
		}
	}
	report, err := l.store.ReconcileAll(r.Context(), clear, actor)
	if err != nil {
		writeServiceError(w, err, "reconcile ledger")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
