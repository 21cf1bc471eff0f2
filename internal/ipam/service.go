package ipam

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/google/uuid"
	"github.com/jbweber/homelab/ipamd/internal/datastore"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/repository"
	"github.com/jbweber/homelab/ipamd/internal/subnetpool"
)

// AgentActor is recorded as the actor of agent pushes
const AgentActor = "agent"

// Service is the entry point for subnet and server mutations. Every save is
// committed first and then handed to the Engine, so a reconciliation failure
// never loses the primary change; it comes back as a warning instead.
type Service struct {
	*Reservations
	ds         *datastore.Datastore
	engine     *Engine
	translator domain.Translator
}

// NewService creates a service over ds. translator may be nil.
func NewService(ds *datastore.Datastore, translator domain.Translator) *Service {
	return &Service{
		Reservations: NewReservations(ds),
		ds:           ds,
		engine:       NewEngine(ds),
		translator:   translator,
	}
}

// Engine returns the reconciliation engine used by the service
func (s *Service) Engine() *Engine {
	return s.engine
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", repository.ErrInvalidEntity, err)
}

// normalizeSubnet validates a subnet definition and recomputes its DHCP ranges
func normalizeSubnet(subnet *domain.Subnet) (netip.Prefix, error) {
	subnet.Name = strings.TrimSpace(subnet.Name)
	if subnet.Name == "" {
		return netip.Prefix{}, fmt.Errorf("%w: subnet name is required", repository.ErrInvalidEntity)
	}
	prefix, err := subnetpool.ParseNetwork(subnet.Network)
	if err != nil {
		return netip.Prefix{}, invalid(err)
	}
	subnet.Network = prefix.String()

	subnet.Gateway = strings.TrimSpace(subnet.Gateway)
	if err := subnetpool.ValidateGateway(subnet.Network, subnet.Gateway); err != nil {
		return netip.Prefix{}, invalid(err)
	}

	pools := make([]string, 0, len(subnet.StaticPools))
	for _, p := range subnet.StaticPools {
		if p = strings.TrimSpace(p); p != "" {
			pools = append(pools, p)
		}
	}
	subnet.StaticPools = pools
	if err := subnetpool.ValidateStaticRanges(subnet.Network, subnet.StaticPools); err != nil {
		return netip.Prefix{}, invalid(err)
	}

	dhcp, err := subnetpool.DHCPRanges(subnet.Network, subnet.StaticPools, subnet.Gateway)
	if err != nil {
		return netip.Prefix{}, invalid(err)
	}
	subnet.DHCPRanges = dhcp
	return prefix, nil
}

// checkOverlap rejects a network that overlaps any other subnet
func checkOverlap(ctx context.Context, tx datastore.Repos, subnet domain.Subnet, prefix netip.Prefix) error {
	subnets, err := tx.Subnets.FindAll(ctx)
	if err != nil {
		return err
	}
	for _, other := range subnets {
		if other.ID == subnet.ID {
			continue
		}
		p, err := subnetpool.ParseNetwork(other.Network)
		if err != nil {
			continue
		}
		if p.Overlaps(prefix) {
			return fmt.Errorf("%w: %s overlaps subnet %s (%s)", ErrOverlap, prefix, other.Name, p)
		}
	}
	return nil
}

// SaveSubnet validates, stores and reconciles a subnet. A zero ID creates.
func (s *Service) SaveSubnet(ctx context.Context, subnet domain.Subnet, actor Actor) (domain.Subnet, Report, error) {
	prefix, err := normalizeSubnet(&subnet)
	if err != nil {
		return domain.Subnet{}, Report{}, err
	}

	var (
		before *domain.Subnet
		saved  domain.Subnet
	)
	err = s.ds.WithTx(ctx, func(tx datastore.Repos) error {
		action := "subnet.create"
		if subnet.ID != 0 {
			existing, err := tx.Subnets.FindByID(ctx, subnet.ID)
			if err != nil {
				return err
			}
			before = &existing
			action = "subnet.update"
		}
		if err := checkOverlap(ctx, tx, subnet, prefix); err != nil {
			return err
		}
		if saved, err = tx.Subnets.Save(ctx, subnet); err != nil {
			return err
		}
		return tx.Audit.Record(ctx, domain.AuditEvent{
			Actor: actor.label(), Action: action, Target: saved.Name,
			Detail: fmt.Sprintf("%s static=%s", saved.Network, strings.Join(saved.StaticPools, ",")),
		})
	})
	if err != nil {
		return domain.Subnet{}, Report{}, err
	}

	report, err := s.engine.SubnetSaved(ctx, SubnetChange{Before: before, After: saved})
	if err != nil {
		report.warn("subnet %s: ledger reconciliation failed: %v", saved.Name, err)
	}
	return saved, report, nil
}

// DeleteSubnet removes a subnet and every ledger row in it
func (s *Service) DeleteSubnet(ctx context.Context, id int64, actor Actor) (Report, error) {
	var deleted domain.Subnet
	err := s.ds.WithTx(ctx, func(tx datastore.Repos) error {
		var err error
		if deleted, err = tx.Subnets.FindByID(ctx, id); err != nil {
			return err
		}
		if err := tx.Subnets.DeleteByID(ctx, id); err != nil {
			return err
		}
		return tx.Audit.Record(ctx, domain.AuditEvent{
			Actor: actor.label(), Action: "subnet.delete", Target: deleted.Name, Detail: deleted.Network,
		})
	})
	if err != nil {
		return Report{}, err
	}

	report, err := s.engine.SubnetDeleted(ctx, deleted)
	if err != nil {
		report.warn("subnet %s: ledger cleanup failed: %v", deleted.Name, err)
	}
	return report, nil
}

func normalizeAddress(field, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	normalized, _, err := repository.NormalizeAddress(text)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return normalized, nil
}

func normalizeMAC(field, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	hw, err := net.ParseMAC(text)
	if err != nil {
		return "", fmt.Errorf("%w: %s %q: %v", repository.ErrInvalidEntity, field, text, err)
	}
	return hw.String(), nil
}

// normalizeServer validates a server record and canonicalizes its identifiers
func normalizeServer(server *domain.Server) error {
	server.Hostname = strings.TrimSpace(server.Hostname)
	if server.Hostname == "" {
		return fmt.Errorf("%w: server hostname is required", repository.ErrInvalidEntity)
	}
	if id := strings.TrimSpace(server.UUID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("%w: uuid %q: %v", repository.ErrInvalidEntity, server.UUID, err)
		}
		server.UUID = parsed.String()
	} else {
		server.UUID = ""
	}

	var err error
	if server.IPAddress, err = normalizeAddress("ip_address", server.IPAddress); err != nil {
		return err
	}
	if server.BMCIP, err = normalizeAddress("bmc_ip", server.BMCIP); err != nil {
		return err
	}
	if server.NICMAC, err = normalizeMAC("nic_mac", server.NICMAC); err != nil {
		return err
	}
	if server.BMCMAC, err = normalizeMAC("bmc_mac", server.BMCMAC); err != nil {
		return err
	}
	return nil
}

// SaveServer validates, stores and reconciles a server. A zero ID creates.
func (s *Service) SaveServer(ctx context.Context, server domain.Server, actor Actor) (domain.Server, Report, error) {
	if err := normalizeServer(&server); err != nil {
		return domain.Server{}, Report{}, err
	}
	return s.commitServer(ctx, server, actor.label())
}

func (s *Service) commitServer(ctx context.Context, server domain.Server, actor string) (domain.Server, Report, error) {
	var (
		before *domain.Server
		saved  domain.Server
	)
	err := s.ds.WithTx(ctx, func(tx datastore.Repos) error {
		action := "server.create"
		if server.ID != 0 {
			existing, err := tx.Servers.FindByID(ctx, server.ID)
			if err != nil {
				return err
			}
			before = &existing
			action = "server.update"
		}
		var err error
		if saved, err = tx.Servers.Save(ctx, server); err != nil {
			return err
		}
		return tx.Audit.Record(ctx, domain.AuditEvent{
			Actor: actor, Action: action, Target: saved.Hostname,
			Detail: fmt.Sprintf("ip=%s bmc=%s", saved.IPAddress, saved.BMCIP),
		})
	})
	if err != nil {
		return domain.Server{}, Report{}, err
	}

	report, err := s.engine.ServerSaved(ctx, ServerChange{Before: before, After: saved})
	if err != nil {
		report.warn("server %s: ledger reconciliation failed: %v", saved.Hostname, err)
	}
	return saved, report, nil
}

// DeleteServer removes a server and frees its ledger rows
func (s *Service) DeleteServer(ctx context.Context, id int64, actor Actor) (Report, error) {
	var deleted domain.Server
	err := s.ds.WithTx(ctx, func(tx datastore.Repos) error {
		var err error
		if deleted, err = tx.Servers.FindByID(ctx, id); err != nil {
			return err
		}
		if err := tx.Servers.DeleteByID(ctx, id); err != nil {
			return err
		}
		return tx.Audit.Record(ctx, domain.AuditEvent{
			Actor: actor.label(), Action: "server.delete", Target: deleted.Hostname,
			Detail: fmt.Sprintf("ip=%s bmc=%s", deleted.IPAddress, deleted.BMCIP),
		})
	})
	if err != nil {
		return Report{}, err
	}

	report, err := s.engine.ServerDeleted(ctx, deleted)
	if err != nil {
		report.warn("server %s: ledger cleanup failed: %v", deleted.Hostname, err)
	}
	return report, nil
}

// PushResult describes the outcome of an agent push
type PushResult struct {
	Server     domain.Server `json:"server"`
	Created    bool          `json:"created"`
	Translated []string      `json:"translated,omitempty"`
	Report     Report        `json:"report"`
}

// PushAgent records facts reported by an agent. The server is matched by UUID,
// then by hostname. Fields the agent leaves empty keep their stored values.
func (s *Service) PushAgent(ctx context.Context, facts domain.Server) (PushResult, error) {
	facts.ID = 0
	if err := normalizeServer(&facts); err != nil {
		return PushResult{}, err
	}
	translated := domain.ApplyTranslations(s.translator, &facts)

	existing, found, err := s.matchServer(ctx, facts)
	if err != nil {
		return PushResult{}, err
	}

	merged := facts
	if found {
		merged = existing
		overlayFacts(&merged, facts)
	}
	merged.DataSource = "api"

	saved, report, err := s.commitServer(ctx, merged, AgentActor)
	if err != nil {
		return PushResult{}, err
	}
	return PushResult{Server: saved, Created: !found, Translated: translated, Report: report}, nil
}

func (s *Service) matchServer(ctx context.Context, facts domain.Server) (domain.Server, bool, error) {
	if facts.UUID != "" {
		existing, err := s.ds.Servers.FindByUUID(ctx, facts.UUID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.Server{}, false, err
		}
	}
	existing, err := s.ds.Servers.FindByHostname(ctx, facts.Hostname)
	if err == nil {
		if existing.UUID != "" && facts.UUID != "" && existing.UUID != facts.UUID {
			// same hostname, different device
			return domain.Server{}, false, nil
		}
		return existing, true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Server{}, false, nil
	}
	return domain.Server{}, false, err
}

// overlayFacts copies every non-empty field of src onto dst
func overlayFacts(dst *domain.Server, src domain.Server) {
	str := func(d *string, v string) {
		if v != "" {
			*d = v
		}
	}
	num := func(d *int64, v int64) {
		if v != 0 {
			*d = v
		}
	}
	str(&dst.UUID, src.UUID)
	str(&dst.Hostname, src.Hostname)
	str(&dst.IPAddress, src.IPAddress)
	str(&dst.NICMAC, src.NICMAC)
	str(&dst.BMCIP, src.BMCIP)
	str(&dst.BMCMAC, src.BMCMAC)
	str(&dst.Manufacture, src.Manufacture)
	str(&dst.ProductName, src.ProductName)
	str(&dst.CPU, src.CPU)
	num(&dst.CoreCount, src.CoreCount)
	num(&dst.Sockets, src.Sockets)
	num(&dst.TotalMem, src.TotalMem)
	num(&dst.DiskCount, src.DiskCount)
	str(&dst.OS, src.OS)
	str(&dst.OSVersion, src.OSVersion)
	str(&dst.Kernel, src.Kernel)
	str(&dst.Building, src.Building)
	str(&dst.Room, src.Room)
	str(&dst.Rack, src.Rack)
	str(&dst.Status, src.Status)
}

// ReconcileAll rebuilds the ledger; see Engine.ReconcileAll
func (s *Service) ReconcileAll(ctx context.Context, clear bool, actor Actor) (Report, error) {
	report, err := s.engine.ReconcileAll(ctx, clear)
	if err != nil {
		return report, err
	}
	detail := fmt.Sprintf("created=%d removed=%d assigned=%d released=%d clear=%t",
		report.Created, report.Removed, report.Assigned, report.Released, clear)
	if err := s.ds.Audit.Record(ctx, domain.AuditEvent{Actor: actor.label(), Action: "ipam.reconcile", Target: "ledger", Detail: detail}); err != nil {
		report.warn("failed to record reconcile audit event: %v", err)
	}
	return report, nil
}
