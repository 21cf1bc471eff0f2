package ipam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/datastore"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/repository"
)

// Failure describes one identifier a batch operation could not process
type Failure struct {
	ID      int64  `json:"id"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

// BatchResult reports a batch operation item by item. Batches are not atomic:
// succeeded items stay applied when others fail.
type BatchResult struct {
	Succeeded []int64   `json:"succeeded"`
	Failures  []Failure `json:"failures"`
}

func (b *BatchResult) record(id int64, address string, err error) {
	if err == nil {
		b.Succeeded = append(b.Succeeded, id)
		return
	}
	b.Failures = append(b.Failures, Failure{ID: id, Address: address, Reason: err.Error(), Err: err})
}

// Reservations claims and releases ledger rows on behalf of operators
type Reservations struct {
	ds *datastore.Datastore
}

// NewReservations creates the reservation workflow over ds
func NewReservations(ds *datastore.Datastore) *Reservations {
	return &Reservations{ds: ds}
}

// Reserve claims each available row for actor with the given note. Each row is
// claimed in its own transaction with a conditional update, so of two
// concurrent claims on one row exactly one wins.
func (r *Reservations) Reserve(ctx context.Context, ids []int64, note string, actor Actor) (BatchResult, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return BatchResult{}, fmt.Errorf("%w: a reservation note is required", repository.ErrInvalidEntity)
	}
	if actor.Name == "" {
		return BatchResult{}, fmt.Errorf("%w: an actor is required", repository.ErrInvalidEntity)
	}

	result := BatchResult{Succeeded: []int64{}, Failures: []Failure{}}
	for _, id := range ids {
		var address string
		err := r.ds.WithTx(ctx, func(tx datastore.Repos) error {
			e, err := tx.Ledger.FindByID(ctx, id)
			if err != nil {
				return err
			}
			address = e.Address
			if e.Status != domain.StatusAvailable {
				return fmt.Errorf("%w: %s is %s", ErrNotAvailable, e.Address, e.Status)
			}
			if err := tx.Ledger.Claim(ctx, id, note, actor.Name); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return fmt.Errorf("%w: %s was taken", ErrNotAvailable, e.Address)
				}
				return err
			}
			return tx.Audit.Record(ctx, domain.AuditEvent{
				Actor: actor.label(), Action: "ipam.reserve", Target: e.Address, Detail: note,
			})
		})
		result.record(id, address, err)
	}
	return result, nil
}

// Release returns each reserved row to available. Only the owner or a
// privileged actor may release a row.
func (r *Reservations) Release(ctx context.Context, ids []int64, actor Actor) (BatchResult, error) {
	result := BatchResult{Succeeded: []int64{}, Failures: []Failure{}}
	for _, id := range ids {
		var address string
		err := r.ds.WithTx(ctx, func(tx datastore.Repos) error {
			e, err := tx.Ledger.FindByID(ctx, id)
			if err != nil {
				return err
			}
			address = e.Address
			if e.Status != domain.StatusReserved {
				return fmt.Errorf("%w: %s is %s", ErrNotReserved, e.Address, e.Status)
			}
			if !actor.CanManage(e) {
				return fmt.Errorf("%w: %s is reserved by %s", ErrPermission, e.Address, e.ReservedBy)
			}
			if err := tx.Ledger.Release(ctx, id, e.ReservedBy); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return fmt.Errorf("%w: %s was released concurrently", ErrNotReserved, e.Address)
				}
				return err
			}
			return tx.Audit.Record(ctx, domain.AuditEvent{
				Actor: actor.label(), Action: "ipam.release", Target: e.Address,
				Detail: fmt.Sprintf("reserved by %s: %s", e.ReservedBy, e.Description),
			})
		})
		result.record(id, address, err)
	}
	return result, nil
}

// Edit changes the note of a reserved row. Ownership is checked before anything is written.
func (r *Reservations) Edit(ctx context.Context, id int64, note string, actor Actor) (domain.LedgerEntry, error) {
	var updated domain.LedgerEntry
	err := r.ds.WithTx(ctx, func(tx datastore.Repos) error {
		e, err := tx.Ledger.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != domain.StatusReserved {
			return fmt.Errorf("%w: only reserved addresses can be edited, %s is %s", ErrNotReserved, e.Address, e.Status)
		}
		if !actor.CanManage(e) {
			return fmt.Errorf("%w: %s is reserved by %s", ErrPermission, e.Address, e.ReservedBy)
		}
		if err := tx.Ledger.UpdateDescription(ctx, id, note); err != nil {
			return err
		}
		if err := tx.Audit.Record(ctx, domain.AuditEvent{
			Actor: actor.label(), Action: "ipam.edit", Target: e.Address, Detail: strings.TrimSpace(note),
		}); err != nil {
			return err
		}
		updated, err = tx.Ledger.FindByID(ctx, id)
		return err
	})
	return updated, err
}

// Delete removes a ledger row. Reserved rows need ownership, assigned rows
// must be freed first, and available rows need a privileged actor.
func (r *Reservations) Delete(ctx context.Context, id int64, actor Actor) error {
	return r.ds.WithTx(ctx, func(tx datastore.Repos) error {
		e, err := tx.Ledger.FindByID(ctx, id)
		if err != nil {
			return err
		}
		switch e.Status {
		case domain.StatusReserved:
			if !actor.CanManage(e) {
				return fmt.Errorf("%w: %s is reserved by %s", ErrPermission, e.Address, e.ReservedBy)
			}
		case domain.StatusAssigned:
			return fmt.Errorf("%w: %s is assigned to %s", repository.ErrConflict, e.Address, e.Hostname)
		default:
			if !actor.Privileged {
				return fmt.Errorf("%w: only administrators may delete available addresses", ErrPermission)
			}
		}
		if err := tx.Ledger.DeleteByID(ctx, id); err != nil {
			return err
		}
		return tx.Audit.Record(ctx, domain.AuditEvent{
			Actor: actor.label(), Action: "ipam.delete", Target: e.Address, Detail: string(e.Status),
		})
	})
}

// ListMine returns the rows actor currently has reserved
func (r *Reservations) ListMine(ctx context.Context, actor Actor) ([]domain.LedgerEntry, error) {
	if actor.Name == "" {
		return []domain.LedgerEntry{}, nil
	}
	return r.ds.Ledger.List(ctx, repository.LedgerFilter{
		Status:     domain.StatusReserved,
		ReservedBy: actor.Name,
	})
}
