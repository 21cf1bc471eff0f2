package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/iprange"
)

// LedgerFilter narrows ledger queries. Zero values match everything.
type LedgerFilter struct {
	SubnetID   *int64
	Unrouted   bool // only rows with no subnet; ignored when SubnetID is set
	Status     domain.Status
	Pool       domain.PoolType
	Search     string // substring of address, hostname or MAC
	ReservedBy string
	Limit      int
	Offset     int
}

// LedgerRepository is the allocation ledger: one row per (address, subnet)
type LedgerRepository interface {
	Repository[domain.LedgerEntry, int64]

	// Upsert returns the row for (address, subnet), creating an available one with pool if missing
	Upsert(ctx context.Context, address string, subnetID *int64, pool domain.PoolType) (domain.LedgerEntry, error)
	// Find returns the row for (address, subnet) or ErrNotFound
	Find(ctx context.Context, address string, subnetID *int64) (domain.LedgerEntry, error)
	FindByAddress(ctx context.Context, address string) ([]domain.LedgerEntry, error)
	FindBySubnet(ctx context.Context, subnetID int64) ([]domain.LedgerEntry, error)
	FindUnrouted(ctx context.Context) ([]domain.LedgerEntry, error)

	// SetAssigned links the row to server. Reserved rows are never taken: ErrConflict.
	SetAssigned(ctx context.Context, id int64, server domain.Server, isBMC bool) (domain.LedgerEntry, error)
	// ClearAssignment reverts a static row to available or deletes a dhcp/unrouted row.
	// deleted reports which happened. Reserved rows are refused with ErrConflict.
	ClearAssignment(ctx context.Context, entry domain.LedgerEntry) (deleted bool, err error)
	// UpdatePlacement moves a row to another subnet or pool classification
	UpdatePlacement(ctx context.Context, id int64, subnetID *int64, pool domain.PoolType) error

	// Claim moves an available row to reserved. ErrConflict when it is not available.
	Claim(ctx context.Context, id int64, note, owner string) error
	// Release moves a row reserved by owner back to available. ErrConflict when it is not.
	Release(ctx context.Context, id int64, owner string) error
	// UpdateDescription edits the note on a reserved row. ErrConflict when it is not reserved.
	UpdateDescription(ctx context.Context, id int64, note string) error

	DeleteForSubnet(ctx context.Context, subnetID int64) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)

	List(ctx context.Context, filter LedgerFilter) ([]domain.LedgerEntry, error)
	Count(ctx context.Context, filter LedgerFilter) (int64, error)
	CountByStatus(ctx context.Context, filter LedgerFilter) (map[domain.Status]int64, error)
	// CountStaticAllocated counts static rows of a subnet that are assigned or reserved
	CountStaticAllocated(ctx context.Context, subnetID int64) (int64, error)
}

// ledgerRepositoryImpl implements LedgerRepository
type ledgerRepositoryImpl struct {
	db DBTX
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db DBTX) LedgerRepository {
	return &ledgerRepositoryImpl{
		db: db,
	}
}

const ledgerColumns = `id, address, subnet_id, pool, status, server_id, is_bmc, hostname,
	mac_address, description, reserved_by, reserved_at, created_at, updated_at`

// NormalizeAddress parses address and returns its canonical text and sort key
func NormalizeAddress(address string) (string, []byte, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return "", nil, fmt.Errorf("%w: address %q: %v", ErrInvalidEntity, address, err)
	}
	if addr.Zone() != "" {
		return "", nil, fmt.Errorf("%w: zoned address %q not allowed", ErrInvalidEntity, address)
	}
	addr = addr.Unmap()
	return addr.String(), iprange.SortKey(addr), nil
}

func validateEntry(e domain.LedgerEntry) error {
	if !e.Pool.Valid() {
		return fmt.Errorf("%w: unknown pool %q", ErrInvalidEntity, e.Pool)
	}
	if (e.Pool == domain.PoolUnrouted) != (e.SubnetID == nil) {
		return fmt.Errorf("%w: unrouted rows have no subnet and routed rows need one", ErrInvalidEntity)
	}
	switch e.Status {
	case domain.StatusAvailable:
		if e.ServerID != nil {
			return fmt.Errorf("%w: available rows cannot reference a server", ErrInvalidEntity)
		}
	case domain.StatusAssigned:
	case domain.StatusReserved:
		if strings.TrimSpace(e.Description) == "" || e.ReservedBy == "" {
			return fmt.Errorf("%w: reserved rows need a description and an owner", ErrInvalidEntity)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEntity, e.Status)
	}
	return nil
}

// Save creates or updates a ledger row
func (r *ledgerRepositoryImpl) Save(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if entry.Status == "" {
		entry.Status = domain.StatusAvailable
	}
	if err := validateEntry(entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	address, key, err := NormalizeAddress(entry.Address)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	entry.Address = address
	if entry.Status != domain.StatusReserved {
		entry.Description = ""
		entry.ReservedBy = ""
	}

	if entry.ID == 0 {
		return r.createEntry(ctx, entry, key)
	}
	return r.updateEntry(ctx, entry, key)
}

func (r *ledgerRepositoryImpl) createEntry(ctx context.Context, e domain.LedgerEntry, key []byte) (domain.LedgerEntry, error) {
	_, err := r.Find(ctx, e.Address, e.SubnetID)
	if err == nil {
		return domain.LedgerEntry{}, fmt.Errorf("%w: ledger row for %s already exists", ErrDuplicate, e.Address)
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.LedgerEntry{}, err
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO ip_ledger (address, sort_key, subnet_id, pool, status, server_id, is_bmc,
			hostname, mac_address, description, reserved_by, reserved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CASE WHEN ? = 'reserved' THEN CURRENT_TIMESTAMP END)`,
		e.Address, key, nullInt64(e.SubnetID), string(e.Pool), string(e.Status), nullInt64(e.ServerID), e.IsBMC,
		e.Hostname, e.MACAddress, e.Description, e.ReservedBy, string(e.Status))
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("failed to create ledger row: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("failed to get ledger row ID: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *ledgerRepositoryImpl) updateEntry(ctx context.Context, e domain.LedgerEntry, key []byte) (domain.LedgerEntry, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_ledger
		SET address = ?, sort_key = ?, subnet_id = ?, pool = ?, status = ?, server_id = ?, is_bmc = ?,
		    hostname = ?, mac_address = ?, description = ?, reserved_by = ?,
		    reserved_at = CASE WHEN ? = 'reserved' THEN COALESCE(reserved_at, CURRENT_TIMESTAMP) END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		e.Address, key, nullInt64(e.SubnetID), string(e.Pool), string(e.Status), nullInt64(e.ServerID), e.IsBMC,
		e.Hostname, e.MACAddress, e.Description, e.ReservedBy, string(e.Status), e.ID)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("failed to update ledger row: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.LedgerEntry{}, ErrNotFound
	}
	return r.FindByID(ctx, e.ID)
}

// Upsert returns the existing row for (address, subnet) or creates an available one
func (r *ledgerRepositoryImpl) Upsert(ctx context.Context, address string, subnetID *int64, pool domain.PoolType) (domain.LedgerEntry, error) {
	if err := validateEntry(domain.LedgerEntry{Pool: pool, SubnetID: subnetID, Status: domain.StatusAvailable}); err != nil {
		return domain.LedgerEntry{}, err
	}
	normalized, key, err := NormalizeAddress(address)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ip_ledger (address, sort_key, subnet_id, pool, status)
		VALUES (?, ?, ?, ?, 'available')`,
		normalized, key, nullInt64(subnetID), string(pool))
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("failed to upsert ledger row: %w", err)
	}
	return r.Find(ctx, normalized, subnetID)
}

// Find returns the row for (address, subnet)
func (r *ledgerRepositoryImpl) Find(ctx context.Context, address string, subnetID *int64) (domain.LedgerEntry, error) {
	normalized, _, err := NormalizeAddress(address)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e, err := scanEntry(r.db.QueryRowContext(ctx,
		"SELECT "+ledgerColumns+" FROM ip_ledger WHERE address = ? AND subnet_id IS ?",
		normalized, nullInt64(subnetID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, ErrNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("failed to find ledger row: %w", err)
	}
	return e, nil
}

// FindByID retrieves a ledger row by its ID
func (r *ledgerRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.LedgerEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, "SELECT "+ledgerColumns+" FROM ip_ledger WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, ErrNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("failed to find ledger row: %w", err)
	}
	return e, nil
}

// FindAll retrieves every ledger row in numeric address order
func (r *ledgerRepositoryImpl) FindAll(ctx context.Context) ([]domain.LedgerEntry, error) {
	return r.List(ctx, LedgerFilter{})
}

// FindByAddress returns the rows for address across all subnets
func (r *ledgerRepositoryImpl) FindByAddress(ctx context.Context, address string) ([]domain.LedgerEntry, error) {
	normalized, _, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, "SELECT "+ledgerColumns+" FROM ip_ledger WHERE address = ? ORDER BY id", normalized)
}

// FindBySubnet returns every row of a subnet in numeric address order
func (r *ledgerRepositoryImpl) FindBySubnet(ctx context.Context, subnetID int64) ([]domain.LedgerEntry, error) {
	return r.List(ctx, LedgerFilter{SubnetID: &subnetID})
}

// FindUnrouted returns every row that no subnet contains
func (r *ledgerRepositoryImpl) FindUnrouted(ctx context.Context) ([]domain.LedgerEntry, error) {
	return r.List(ctx, LedgerFilter{Unrouted: true})
}

// SetAssigned marks a row as assigned to server
func (r *ledgerRepositoryImpl) SetAssigned(ctx context.Context, id int64, server domain.Server, isBMC bool) (domain.LedgerEntry, error) {
	if server.ID == 0 {
		return domain.LedgerEntry{}, fmt.Errorf("%w: server ID is required", ErrInvalidEntity)
	}
	mac := server.NICMAC
	if isBMC {
		mac = server.BMCMAC
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_ledger
		SET status = 'assigned', server_id = ?, is_bmc = ?, hostname = ?, mac_address = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status != 'reserved'`,
		server.ID, isBMC, server.Hostname, mac, id)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("failed to assign ledger row: %w", err)
	}
	if err := r.checkTransition(ctx, result, id, "is reserved"); err != nil {
		return domain.LedgerEntry{}, err
	}
	return r.FindByID(ctx, id)
}

// ClearAssignment releases a row from its server
func (r *ledgerRepositoryImpl) ClearAssignment(ctx context.Context, entry domain.LedgerEntry) (bool, error) {
	if entry.Pool == domain.PoolStatic {
		result, err := r.db.ExecContext(ctx, `
			UPDATE ip_ledger
			SET status = 'available', server_id = NULL, is_bmc = 0, hostname = '', mac_address = '',
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status != 'reserved'`, entry.ID)
		if err != nil {
			return false, fmt.Errorf("failed to clear ledger row: %w", err)
		}
		return false, r.checkTransition(ctx, result, entry.ID, "is reserved")
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM ip_ledger WHERE id = ? AND status != 'reserved'", entry.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete ledger row: %w", err)
	}
	if err := r.checkTransition(ctx, result, entry.ID, "is reserved"); err != nil {
		return false, err
	}
	return true, nil
}

// UpdatePlacement changes the subnet and pool of a row
func (r *ledgerRepositoryImpl) UpdatePlacement(ctx context.Context, id int64, subnetID *int64, pool domain.PoolType) error {
	if err := validateEntry(domain.LedgerEntry{Pool: pool, SubnetID: subnetID, Status: domain.StatusAssigned}); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_ledger SET subnet_id = ?, pool = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullInt64(subnetID), string(pool), id)
	if err != nil {
		return fmt.Errorf("failed to move ledger row: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim reserves an available row
func (r *ledgerRepositoryImpl) Claim(ctx context.Context, id int64, note, owner string) error {
	if strings.TrimSpace(note) == "" || owner == "" {
		return fmt.Errorf("%w: a reservation needs a note and an owner", ErrInvalidEntity)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_ledger
		SET status = 'reserved', description = ?, reserved_by = ?, reserved_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'available'`,
		strings.TrimSpace(note), owner, id)
	if err != nil {
		return fmt.Errorf("failed to reserve ledger row: %w", err)
	}
	return r.checkTransition(ctx, result, id, "is not available")
}

// Release returns a reserved row to available
func (r *ledgerRepositoryImpl) Release(ctx context.Context, id int64, owner string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_ledger
		SET status = 'available', description = '', reserved_by = '', reserved_at = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'reserved' AND reserved_by = ?`,
		id, owner)
	if err != nil {
		return fmt.Errorf("failed to release ledger row: %w", err)
	}
	return r.checkTransition(ctx, result, id, "is not reserved by "+owner)
}

// UpdateDescription changes the note of a reserved row
func (r *ledgerRepositoryImpl) UpdateDescription(ctx context.Context, id int64, note string) error {
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("%w: a reservation needs a note", ErrInvalidEntity)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE ip_ledger SET description = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'reserved'`,
		strings.TrimSpace(note), id)
	if err != nil {
		return fmt.Errorf("failed to update ledger row: %w", err)
	}
	return r.checkTransition(ctx, result, id, "is not reserved")
}

// checkTransition turns a conditional update that touched nothing into ErrNotFound or ErrConflict
func (r *ledgerRepositoryImpl) checkTransition(ctx context.Context, result sql.Result, id int64, reason string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	exists, err := r.ExistsByID(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: ledger row %d %s", ErrConflict, id, reason)
}

// DeleteByID deletes a ledger row by its ID
func (r *ledgerRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM ip_ledger WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete ledger row: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForSubnet removes every row of a subnet regardless of status
func (r *ledgerRepositoryImpl) DeleteForSubnet(ctx context.Context, subnetID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM ip_ledger WHERE subnet_id = ?", subnetID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ledger rows for subnet: %w", err)
	}
	return result.RowsAffected()
}

// DeleteAll empties the ledger
func (r *ledgerRepositoryImpl) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM ip_ledger")
	if err != nil {
		return 0, fmt.Errorf("failed to clear ledger: %w", err)
	}
	return result.RowsAffected()
}

// ExistsByID checks if a ledger row exists by its ID
func (r *ledgerRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ip_ledger WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger row existence: %w", err)
	}
	return count > 0, nil
}

func (f LedgerFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	switch {
	case f.SubnetID != nil:
		clauses = append(clauses, "subnet_id = ?")
		args = append(args, *f.SubnetID)
	case f.Unrouted:
		clauses = append(clauses, "subnet_id IS NULL")
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Pool != "" {
		clauses = append(clauses, "pool = ?")
		args = append(args, string(f.Pool))
	}
	if f.ReservedBy != "" {
		clauses = append(clauses, "reserved_by = ?")
		args = append(args, f.ReservedBy)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + escapeLike(strings.ToLower(q)) + "%"
		clauses = append(clauses, `(lower(address) LIKE ? ESCAPE '\' OR lower(hostname) LIKE ? ESCAPE '\' OR lower(mac_address) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List returns filtered rows in numeric address order
func (r *ledgerRepositoryImpl) List(ctx context.Context, filter LedgerFilter) ([]domain.LedgerEntry, error) {
	where, args := filter.where()
	query := "SELECT " + ledgerColumns + " FROM ip_ledger" + where + " ORDER BY sort_key, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}
	return r.query(ctx, query, args...)
}

// Count returns how many rows match filter, ignoring paging
func (r *ledgerRepositoryImpl) Count(ctx context.Context, filter LedgerFilter) (int64, error) {
	where, args := filter.where()
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ip_ledger"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count ledger rows: %w", err)
	}
	return count, nil
}

// CountByStatus returns matching row counts keyed by status
func (r *ledgerRepositoryImpl) CountByStatus(ctx context.Context, filter LedgerFilter) (map[domain.Status]int64, error) {
	where, args := filter.where()
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM ip_ledger"+where+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger rows by status: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	counts := map[domain.Status]int64{
		domain.StatusAvailable: 0,
		domain.StatusAssigned:  0,
		domain.StatusReserved:  0,
	}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// CountStaticAllocated returns how many static rows of a subnet are not available
func (r *ledgerRepositoryImpl) CountStaticAllocated(ctx context.Context, subnetID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ip_ledger
		WHERE subnet_id = ? AND pool = 'static' AND status != 'available'`, subnetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count allocated static rows: %w", err)
	}
	return count, nil
}

func (r *ledgerRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (domain.LedgerEntry, error) {
	var (
		e                  domain.LedgerEntry
		subnetID, serverID sql.NullInt64
		pool, status       string
		reservedAt         sql.NullString
	)
	err := row.Scan(&e.ID, &e.Address, &subnetID, &pool, &status, &serverID, &e.IsBMC, &e.Hostname,
		&e.MACAddress, &e.Description, &e.ReservedBy, &reservedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.SubnetID = int64Ptr(subnetID)
	e.ServerID = int64Ptr(serverID)
	e.Pool = domain.PoolType(pool)
	e.Status = domain.Status(status)
	e.ReservedAt = reservedAt.String
	return e, nil
}
