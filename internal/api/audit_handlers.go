package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/jbweber/homelab/ipamd/internal/domain"
)

const defaultAuditLimit = 100

// AuditStore defines the service interface for audit handlers
type AuditStore interface {
	AuditTrail(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}

// Audit serves the audit trail
type Audit struct {
	store AuditStore
}

func NewAudit(store AuditStore) *Audit {
	return &Audit{store: store}
}

func (a *Audit) AuditTrailHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxPageSize)
	}
	events, err := a.store.AuditTrail(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err, "list audit events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
