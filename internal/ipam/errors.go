package ipam

import (
	"errors"
	"fmt"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/repository"
)

// Workflow errors. The first three wrap repository.ErrConflict so callers
// mapping conflicts generically still see them as conflicts.
var (
	ErrNotAvailable = fmt.Errorf("%w: address is not available", repository.ErrConflict)
	ErrNotReserved  = fmt.Errorf("%w: address is not reserved", repository.ErrConflict)
	ErrOverlap      = fmt.Errorf("%w: network overlaps another subnet", repository.ErrConflict)

	// ErrPermission is returned when an actor may not touch someone else's reservation
	ErrPermission = errors.New("permission denied")
)

// Actor identifies who is asking. Privileged actors may manage any reservation.
type Actor struct {
	Name       string
	Privileged bool
}

// CanManage reports whether a may release or edit the reservation on e
func (a Actor) CanManage(e domain.LedgerEntry) bool {
	return a.Privileged || (a.Name != "" && a.Name == e.ReservedBy)
}

// label names the actor in audit records
func (a Actor) label() string {
	if a.Name == "" {
		return "anonymous"
	}
	return a.Name
}
