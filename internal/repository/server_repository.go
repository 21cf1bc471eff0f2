package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/domain"
)

// ServerRepository defines domain-specific operations for servers
type ServerRepository interface {
	Repository[domain.Server, int64]
	FindByUUID(ctx context.Context, uuid string) (domain.Server, error)
	FindByHostname(ctx context.Context, hostname string) (domain.Server, error)
	FindByIPAddress(ctx context.Context, address string) ([]domain.Server, error)
}

// serverRepositoryImpl implements ServerRepository
type serverRepositoryImpl struct {
	db DBTX
}

// NewServerRepository creates a new server repository
func NewServerRepository(db DBTX) ServerRepository {
	return &serverRepositoryImpl{
		db: db,
	}
}

const serverColumns = `id, uuid, hostname, ip_address, nic_mac, bmc_ip, bmc_mac,
	manufacture, product_name, cpu, core_count, sockets, total_mem, disk_count,
	os, os_version, kernel, building, room, rack, status, data_source, created_at, updated_at`

// Save creates or updates a server
func (r *serverRepositoryImpl) Save(ctx context.Context, server domain.Server) (domain.Server, error) {
	if strings.TrimSpace(server.Hostname) == "" {
		return domain.Server{}, fmt.Errorf("%w: server hostname is required", ErrInvalidEntity)
	}
	if server.Status == "" {
		server.Status = "active"
	}
	if server.DataSource == "" {
		server.DataSource = "manual"
	}

	if server.UUID != "" {
		var count int
		err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM servers WHERE uuid = ? AND id != ?", server.UUID, server.ID).Scan(&count)
		if err != nil {
			return domain.Server{}, fmt.Errorf("failed to check for duplicate server uuid: %w", err)
		}
		if count > 0 {
			return domain.Server{}, fmt.Errorf("%w: server with uuid '%s' already exists", ErrDuplicate, server.UUID)
		}
	}

	if server.ID == 0 {
		return r.createServer(ctx, server)
	}
	return r.updateServer(ctx, server)
}

// createServer inserts a new server into the database
func (r *serverRepositoryImpl) createServer(ctx context.Context, s domain.Server) (domain.Server, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO servers (uuid, hostname, ip_address, nic_mac, bmc_ip, bmc_mac,
			manufacture, product_name, cpu, core_count, sockets, total_mem, disk_count,
			os, os_version, kernel, building, room, rack, status, data_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(s.UUID), s.Hostname, s.IPAddress, s.NICMAC, s.BMCIP, s.BMCMAC,
		s.Manufacture, s.ProductName, s.CPU, s.CoreCount, s.Sockets, s.TotalMem, s.DiskCount,
		s.OS, s.OSVersion, s.Kernel, s.Building, s.Room, s.Rack, s.Status, s.DataSource)
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to create server: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to get server ID: %w", err)
	}

	return r.FindByID(ctx, id)
}

// updateServer updates an existing server in the database
func (r *serverRepositoryImpl) updateServer(ctx context.Context, s domain.Server) (domain.Server, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE servers
		SET uuid = ?, hostname = ?, ip_address = ?, nic_mac = ?, bmc_ip = ?, bmc_mac = ?,
		    manufacture = ?, product_name = ?, cpu = ?, core_count = ?, sockets = ?, total_mem = ?,
		    disk_count = ?, os = ?, os_version = ?, kernel = ?, building = ?, room = ?, rack = ?,
		    status = ?, data_source = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		nullString(s.UUID), s.Hostname, s.IPAddress, s.NICMAC, s.BMCIP, s.BMCMAC,
		s.Manufacture, s.ProductName, s.CPU, s.CoreCount, s.Sockets, s.TotalMem,
		s.DiskCount, s.OS, s.OSVersion, s.Kernel, s.Building, s.Room, s.Rack,
		s.Status, s.DataSource, s.ID)
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to update server: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Server{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.Server{}, ErrNotFound
	}

	return r.FindByID(ctx, s.ID)
}

// FindByID retrieves a server by its ID
func (r *serverRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Server, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByUUID retrieves a server by its device-reported UUID
func (r *serverRepositoryImpl) FindByUUID(ctx context.Context, uuid string) (domain.Server, error) {
	if uuid == "" {
		return domain.Server{}, ErrNotFound
	}
	return r.findOne(ctx, "uuid = ?", uuid)
}

// FindByHostname retrieves the oldest server with the given hostname
func (r *serverRepositoryImpl) FindByHostname(ctx context.Context, hostname string) (domain.Server, error) {
	return r.findOne(ctx, "hostname = ? ORDER BY id LIMIT 1", hostname)
}

func (r *serverRepositoryImpl) findOne(ctx context.Context, where string, arg any) (domain.Server, error) {
	s, err := scanServer(r.db.QueryRowContext(ctx, "SELECT "+serverColumns+" FROM servers WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Server{}, ErrNotFound
		}
		return domain.Server{}, fmt.Errorf("failed to find server: %w", err)
	}
	return s, nil
}

// FindByIPAddress returns servers whose primary or BMC address equals address
func (r *serverRepositoryImpl) FindByIPAddress(ctx context.Context, address string) ([]domain.Server, error) {
	return r.findMany(ctx, "SELECT "+serverColumns+" FROM servers WHERE ip_address = ? OR bmc_ip = ? ORDER BY id", address, address)
}

// FindAll retrieves all servers ordered by hostname
func (r *serverRepositoryImpl) FindAll(ctx context.Context) ([]domain.Server, error) {
	return r.findMany(ctx, "SELECT "+serverColumns+" FROM servers ORDER BY hostname, id")
}

func (r *serverRepositoryImpl) findMany(ctx context.Context, query string, args ...any) ([]domain.Server, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var servers []domain.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating servers: %w", err)
	}

	return servers, nil
}

// DeleteByID deletes a server by its ID
func (r *serverRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
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

// ExistsByID checks if a server exists by its ID
func (r *serverRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM servers WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check server existence: %w", err)
	}
	return count > 0, nil
}

func scanServer(row rowScanner) (domain.Server, error) {
	var (
		s    domain.Server
		uuid sql.NullString
	)
	err := row.Scan(&s.ID, &uuid, &s.Hostname, &s.IPAddress, &s.NICMAC, &s.BMCIP, &s.BMCMAC,
		&s.Manufacture, &s.ProductName, &s.CPU, &s.CoreCount, &s.Sockets, &s.TotalMem, &s.DiskCount,
		&s.OS, &s.OSVersion, &s.Kernel, &s.Building, &s.Room, &s.Rack, &s.Status, &s.DataSource,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Server{}, err
	}
	s.UUID = uuid.String
	return s, nil
}
