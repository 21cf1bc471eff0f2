package ipam

import (
	"context"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/repository"
	"github.com/jbweber/homelab/ipamd/internal/subnetpool"
)

// Page is one page of ledger rows plus the unpaged total
type Page struct {
	Entries []domain.LedgerEntry `json:"entries"`
	Total   int64                `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// Stats counts ledger rows by status
type Stats struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Assigned  int64 `json:"assigned"`
	Reserved  int64 `json:"reserved"`
}

// SubnetView is a subnet with its derived pool summary. Summary is nil and
// Warning set when the stored definition cannot be parsed.
type SubnetView struct {
	domain.Subnet
	Summary *subnetpool.Summary `json:"summary,omitempty"`
	Warning string              `json:"warning,omitempty"`
}

// ListLedger returns the filtered rows in numeric address order
func (s *Service) ListLedger(ctx context.Context, filter repository.LedgerFilter) (Page, error) {
	entries, err := s.ds.Ledger.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	total, err := s.ds.Ledger.Count(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return Page{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Entry returns one ledger row
func (s *Service) Entry(ctx context.Context, id int64) (domain.LedgerEntry, error) {
	return s.ds.Ledger.FindByID(ctx, id)
}

// LedgerStats counts the filtered rows by status
func (s *Service) LedgerStats(ctx context.Context, filter repository.LedgerFilter) (Stats, error) {
	filter.Status = ""
	counts, err := s.ds.Ledger.CountByStatus(ctx, filter)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Available: counts[domain.StatusAvailable],
		Assigned:  counts[domain.StatusAssigned],
		Reserved:  counts[domain.StatusReserved],
	}
	stats.Total = stats.Available + stats.Assigned + stats.Reserved
	return stats, nil
}

// Subnet returns one subnet with its pool summary
func (s *Service) Subnet(ctx context.Context, id int64) (SubnetView, error) {
	subnet, err := s.ds.Subnets.FindByID(ctx, id)
	if err != nil {
		return SubnetView{}, err
	}
	return s.view(ctx, subnet)
}

// Subnets returns every subnet with its pool summary, ordered by name
func (s *Service) Subnets(ctx context.Context) ([]SubnetView, error) {
	subnets, err := s.ds.Subnets.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]SubnetView, 0, len(subnets))
	for _, subnet := range subnets {
		v, err := s.view(ctx, subnet)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) view(ctx context.Context, subnet domain.Subnet) (SubnetView, error) {
	allocated, err := s.ds.Ledger.CountStaticAllocated(ctx, subnet.ID)
	if err != nil {
		return SubnetView{}, err
	}
	summary, err := subnetpool.Summarize(subnet, uint64(allocated))
	if err != nil {
		return SubnetView{Subnet: subnet, Warning: err.Error()}, nil
	}
	return SubnetView{Subnet: subnet, Summary: &summary}, nil
}

// Server returns one server
func (s *Service) Server(ctx context.Context, id int64) (domain.Server, error) {
	return s.ds.Servers.FindByID(ctx, id)
}

// Servers returns every server
func (s *Service) Servers(ctx context.Context) ([]domain.Server, error) {
	servers, err := s.ds.Servers.FindAll(ctx)
	if servers == nil && err == nil {
		servers = []domain.Server{}
	}
	return servers, err
}

// AuditTrail returns the most recent audit events, newest first
func (s *Service) AuditTrail(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	events, err := s.ds.Audit.FindRecent(ctx, limit)
	if events == nil && err == nil {
		events = []domain.AuditEvent{}
	}
	return events, err
}

// PurgeAudit deletes audit events older than days
func (s *Service) PurgeAudit(ctx context.Context, days int) (int64, error) {
	return s.ds.Audit.PurgeOlderThan(ctx, days)
}
