// Package ipam keeps the allocation ledger consistent with subnets and
// servers, and runs the reservation workflow on top of it.
package ipam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"slices"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/datastore"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/iprange"
	"github.com/jbweber/homelab/ipamd/internal/repository"
	"github.com/jbweber/homelab/ipamd/internal/subnetpool"
	"go4.org/netipx"
)

// maxStaticRows caps how many ledger rows a single static pool may materialize
const maxStaticRows = iprange.MaxEnumerate

// Report summarizes what a reconciliation changed. Warnings describe rows
// that could not be reconciled; they never fail the triggering save.
type Report struct {
	Created      int      `json:"created"`
	Removed      int      `json:"removed"`
	Reclassified int      `json:"reclassified"`
	Rehomed      int      `json:"rehomed"`
	Assigned     int      `json:"assigned"`
	Released     int      `json:"released"`
	Warnings     []string `json:"warnings,omitempty"`
}

func (r *Report) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("ipam: %s", msg)
	r.Warnings = append(r.Warnings, msg)
}

// ServerChange carries a server before and after a save. Before is nil on create.
type ServerChange struct {
	Before *domain.Server
	After  domain.Server
}

// SubnetChange carries a subnet before and after a save. Before is nil on create.
type SubnetChange struct {
	Before *domain.Subnet
	After  domain.Subnet
}

// Engine applies the ledger reconciliation rules. Each hook runs its ledger
// mutations in one transaction and is meant to be called after the triggering
// entity has been committed.
type Engine struct {
	ds *datastore.Datastore
}

// NewEngine creates an engine over ds
func NewEngine(ds *datastore.Datastore) *Engine {
	return &Engine{ds: ds}
}

// ServerSaved releases addresses the server no longer holds and assigns the current ones
func (e *Engine) ServerSaved(ctx context.Context, change ServerChange) (Report, error) {
	var report Report
	err := e.ds.WithTx(ctx, func(tx datastore.Repos) error {
		ix, err := loadIndex(ctx, tx, &report)
		if err != nil {
			return err
		}
		return syncServer(ctx, tx, ix, change, &report)
	})
	return report, err
}

// ServerDeleted frees the ledger rows of a deleted server. Static rows revert
// to available; dhcp and unrouted rows are removed.
func (e *Engine) ServerDeleted(ctx context.Context, server domain.Server) (Report, error) {
	var report Report
	err := e.ds.WithTx(ctx, func(tx datastore.Repos) error {
		for _, slot := range addressSlots(server) {
			if err := releaseAddress(ctx, tx, server, slot.address, slot.isBMC, &report); err != nil {
				return err
			}
		}
		return nil
	})
	return report, err
}

// SubnetSaved reconciles the subnet's static pool rows when the subnet is new
// or its network or static pools changed.
func (e *Engine) SubnetSaved(ctx context.Context, change SubnetChange) (Report, error) {
	var report Report
	if !poolChanged(change) {
		return report, nil
	}
	err := e.ds.WithTx(ctx, func(tx datastore.Repos) error {
		return reconcileSubnet(ctx, tx, change.After, &report)
	})
	return report, err
}

// SubnetDeleted removes every ledger row of the subnet
func (e *Engine) SubnetDeleted(ctx context.Context, subnet domain.Subnet) (Report, error) {
	var report Report
	err := e.ds.WithTx(ctx, func(tx datastore.Repos) error {
		n, err := tx.Ledger.DeleteForSubnet(ctx, subnet.ID)
		if err != nil {
			return err
		}
		report.Removed += int(n)
		return nil
	})
	return report, err
}

// ReconcileAll rebuilds the ledger from every subnet and server. With clear the
// ledger is emptied first, reservations included. Without it, assignments that
// no longer match their server are released.
func (e *Engine) ReconcileAll(ctx context.Context, clear bool) (Report, error) {
	var report Report
	err := e.ds.WithTx(ctx, func(tx datastore.Repos) error {
		if clear {
			n, err := tx.Ledger.DeleteAll(ctx)
			if err != nil {
				return err
			}
			report.Removed += int(n)
		}

		subnets, err := tx.Subnets.FindAll(ctx)
		if err != nil {
			return err
		}
		for _, subnet := range subnets {
			if err := reconcileSubnet(ctx, tx, subnet, &report); err != nil {
				return err
			}
		}

		servers, err := tx.Servers.FindAll(ctx)
		if err != nil {
			return err
		}
		ix := buildIndex(subnets, &report)
		if !clear {
			if err := pruneStale(ctx, tx, ix, servers, &report); err != nil {
				return err
			}
		}

		for _, server := range servers {
			if err := syncServer(ctx, tx, ix, ServerChange{After: server}, &report); err != nil {
				return err
			}
		}
		return nil
	})
	return report, err
}

func poolChanged(change SubnetChange) bool {
	if change.Before == nil {
		return true
	}
	return change.Before.Network != change.After.Network ||
		!slices.Equal(change.Before.StaticPools, change.After.StaticPools)
}

type addressSlot struct {
	address string
	isBMC   bool
}

func addressSlots(s domain.Server) []addressSlot {
	var slots []addressSlot
	if strings.TrimSpace(s.IPAddress) != "" {
		slots = append(slots, addressSlot{address: s.IPAddress})
	}
	if strings.TrimSpace(s.BMCIP) != "" {
		slots = append(slots, addressSlot{address: s.BMCIP, isBMC: true})
	}
	return slots
}

// sameAddress compares two address strings by value, treating unparseable text literally
func sameAddress(a, b string) bool {
	pa, errA := netip.ParseAddr(strings.TrimSpace(a))
	pb, errB := netip.ParseAddr(strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return pa.Unmap() == pb.Unmap()
}

func syncServer(ctx context.Context, tx datastore.Repos, ix subnetIndex, change ServerChange, report *Report) error {
	if change.Before != nil {
		previous := map[bool]string{false: change.Before.IPAddress, true: change.Before.BMCIP}
		current := map[bool]string{false: change.After.IPAddress, true: change.After.BMCIP}
		for _, isBMC := range []bool{false, true} {
			old := previous[isBMC]
			if strings.TrimSpace(old) == "" || sameAddress(old, current[isBMC]) {
				continue
			}
			if err := releaseAddress(ctx, tx, *change.Before, old, isBMC, report); err != nil {
				return err
			}
		}
	}

	for _, slot := range addressSlots(change.After) {
		if err := assignAddress(ctx, tx, ix, change.After, slot.address, slot.isBMC, report); err != nil {
			return err
		}
	}
	return nil
}

func assignAddress(ctx context.Context, tx datastore.Repos, ix subnetIndex, server domain.Server, address string, isBMC bool, report *Report) error {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil || addr.Zone() != "" {
		report.warn("server %s: skipping malformed address %q", server.Hostname, address)
		return nil
	}
	addr = addr.Unmap()

	subnetID, pool := ix.resolve(addr)
	entry, err := tx.Ledger.Upsert(ctx, addr.String(), subnetID, pool)
	if err != nil {
		return err
	}
	if entry.Pool != pool {
		if err := tx.Ledger.UpdatePlacement(ctx, entry.ID, subnetID, pool); err != nil {
			return err
		}
		report.Reclassified++
	}
	if entry.Status == domain.StatusReserved {
		report.warn("server %s: %s is reserved by %s and was not assigned", server.Hostname, entry.Address, entry.ReservedBy)
		return nil
	}

	alreadyHeld := entry.Status == domain.StatusAssigned && entry.ServerID != nil &&
		*entry.ServerID == server.ID && entry.IsBMC == isBMC
	if _, err := tx.Ledger.SetAssigned(ctx, entry.ID, server, isBMC); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			report.warn("server %s: %v", server.Hostname, err)
			return nil
		}
		return err
	}
	if !alreadyHeld {
		report.Assigned++
	}
	return dropMisplaced(ctx, tx, server, entry, isBMC, report)
}

// dropMisplaced removes the server's other assigned rows for the same address
// and slot. Such a row sits in a scope that no longer contains the address,
// typically a subnet whose network was narrowed after the assignment.
func dropMisplaced(ctx context.Context, tx datastore.Repos, server domain.Server, current domain.LedgerEntry, isBMC bool, report *Report) error {
	rows, err := tx.Ledger.FindByAddress(ctx, current.Address)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID == current.ID || row.Status != domain.StatusAssigned || row.IsBMC != isBMC {
			continue
		}
		if row.ServerID == nil || *row.ServerID != server.ID {
			continue
		}
		if err := tx.Ledger.DeleteByID(ctx, row.ID); err != nil {
			return err
		}
		report.Removed++
	}
	return nil
}

// releaseAddress clears the rows for address that belong to server in the given
// slot. Rows whose server reference was already nulled by a delete match on
// hostname instead.
func releaseAddress(ctx context.Context, tx datastore.Repos, server domain.Server, address string, isBMC bool, report *Report) error {
	rows, err := tx.Ledger.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidEntity) {
			report.warn("server %s: skipping malformed address %q", server.Hostname, address)
			return nil
		}
		return err
	}

	for _, row := range rows {
		if row.Status != domain.StatusAssigned || row.IsBMC != isBMC {
			continue
		}
		owned := row.ServerID != nil && *row.ServerID == server.ID
		orphaned := row.ServerID == nil && row.Hostname == server.Hostname
		if !owned && !orphaned {
			continue
		}
		if _, err := tx.Ledger.ClearAssignment(ctx, row); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				report.warn("server %s: %v", server.Hostname, err)
				continue
			}
			return err
		}
		report.Released++
	}
	return nil
}

// pruneStale releases assigned rows whose server is gone or no longer carries
// the address. Rows filed under a subnet that no longer contains their address
// are removed so the server's next sync files them where the address resolves.
func pruneStale(ctx context.Context, tx datastore.Repos, ix subnetIndex, servers []domain.Server, report *Report) error {
	byID := make(map[int64]domain.Server, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}

	rows, err := tx.Ledger.List(ctx, repository.LedgerFilter{Status: domain.StatusAssigned})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.SubnetID != nil && !ix.holds(*row.SubnetID, row.Address) {
			if err := tx.Ledger.DeleteByID(ctx, row.ID); err != nil {
				return err
			}
			report.Removed++
			continue
		}
		if row.ServerID != nil {
			if s, ok := byID[*row.ServerID]; ok {
				held := s.IPAddress
				if row.IsBMC {
					held = s.BMCIP
				}
				if sameAddress(held, row.Address) {
					continue
				}
			}
		}
		if _, err := tx.Ledger.ClearAssignment(ctx, row); err != nil {
			return err
		}
		report.Released++
	}
	return nil
}

// reconcileSubnet brings a subnet's rows in line with its static pools
func reconcileSubnet(ctx context.Context, tx datastore.Repos, subnet domain.Subnet, report *Report) error {
	prefix, err := subnetpool.ParseNetwork(subnet.Network)
	if err != nil {
		report.warn("subnet %s: %v", subnet.Name, err)
		return nil
	}
	static, err := iprange.ParseSet(subnet.StaticPools)
	if err != nil {
		report.warn("subnet %s: %v", subnet.Name, err)
		return nil
	}

	rows, err := tx.Ledger.FindBySubnet(ctx, subnet.ID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(rows))
	for _, row := range rows {
		have[row.Address] = true
		if row.Status == domain.StatusReserved {
			continue
		}
		addr, err := netip.ParseAddr(row.Address)
		if err != nil {
			report.warn("subnet %s: ledger row %d has malformed address %q", subnet.Name, row.ID, row.Address)
			continue
		}

		switch {
		case !prefix.Contains(addr):
			if row.Status == domain.StatusAvailable {
				if err := tx.Ledger.DeleteByID(ctx, row.ID); err != nil {
					return err
				}
				delete(have, row.Address)
				report.Removed++
				continue
			}
			report.warn("subnet %s: %s is assigned to %s but lies outside %s", subnet.Name, row.Address, row.Hostname, prefix)
		case static.Contains(addr):
			if row.Pool != domain.PoolStatic {
				if err := tx.Ledger.UpdatePlacement(ctx, row.ID, &subnet.ID, domain.PoolStatic); err != nil {
					return err
				}
				report.Reclassified++
			}
		case row.Pool == domain.PoolStatic && row.Status == domain.StatusAvailable:
			if err := tx.Ledger.DeleteByID(ctx, row.ID); err != nil {
				return err
			}
			delete(have, row.Address)
			report.Removed++
		}
	}

	if err := rehomeUnrouted(ctx, tx, subnet, prefix, static, have, report); err != nil {
		return err
	}

	if size := iprange.SetSize(static); size > maxStaticRows {
		report.warn("subnet %s: static pool of %d addresses is too large to materialize", subnet.Name, size)
		return nil
	}
	for _, r := range static.Ranges() {
		var upsertErr error
		iprange.Each(r, func(addr netip.Addr) bool {
			if !prefix.Contains(addr) || have[addr.String()] {
				return true
			}
			if _, upsertErr = tx.Ledger.Upsert(ctx, addr.String(), &subnet.ID, domain.PoolStatic); upsertErr != nil {
				return false
			}
			have[addr.String()] = true
			report.Created++
			return true
		})
		if upsertErr != nil {
			return upsertErr
		}
	}
	return nil
}

// rehomeUnrouted moves unrouted rows that the subnet now contains into it
func rehomeUnrouted(ctx context.Context, tx datastore.Repos, subnet domain.Subnet, prefix netip.Prefix, static *netipx.IPSet, have map[string]bool, report *Report) error {
	unrouted, err := tx.Ledger.FindUnrouted(ctx)
	if err != nil {
		return err
	}
	for _, row := range unrouted {
		addr, err := netip.ParseAddr(row.Address)
		if err != nil || !prefix.Contains(addr) || row.Status == domain.StatusReserved {
			continue
		}
		if have[row.Address] {
			report.warn("subnet %s: %s already has a row; unrouted row %d left in place", subnet.Name, row.Address, row.ID)
			continue
		}
		pool := domain.PoolDHCP
		if static.Contains(addr) {
			pool = domain.PoolStatic
		}
		if err := tx.Ledger.UpdatePlacement(ctx, row.ID, &subnet.ID, pool); err != nil {
			return err
		}
		have[row.Address] = true
		report.Rehomed++
	}
	return nil
}
