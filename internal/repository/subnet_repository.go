package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/domain"
)

// SubnetRepository defines domain-specific operations for subnets
type SubnetRepository interface {
	Repository[domain.Subnet, int64]
	FindByName(ctx context.Context, name string) (domain.Subnet, error)
}

// subnetRepositoryImpl implements SubnetRepository
type subnetRepositoryImpl struct {
	db DBTX
}

// NewSubnetRepository creates a new subnet repository
func NewSubnetRepository(db DBTX) SubnetRepository {
	return &subnetRepositoryImpl{
		db: db,
	}
}

const subnetColumns = `id, name, network, vlan_id, gateway, description, static_pools, dhcp_ranges, created_at, updated_at`

// Save creates or updates a subnet
func (r *subnetRepositoryImpl) Save(ctx context.Context, subnet domain.Subnet) (domain.Subnet, error) {
	if strings.TrimSpace(subnet.Name) == "" {
		return domain.Subnet{}, fmt.Errorf("%w: subnet name is required", ErrInvalidEntity)
	}
	if strings.TrimSpace(subnet.Network) == "" {
		return domain.Subnet{}, fmt.Errorf("%w: subnet network is required", ErrInvalidEntity)
	}
	if subnet.ID == 0 {
		return r.createSubnet(ctx, subnet)
	}
	return r.updateSubnet(ctx, subnet)
}

// createSubnet inserts a new subnet into the database
func (r *subnetRepositoryImpl) createSubnet(ctx context.Context, s domain.Subnet) (domain.Subnet, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subnets WHERE name = ?", s.Name).Scan(&count)
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to check for duplicate subnet name: %w", err)
	}
	if count > 0 {
		return domain.Subnet{}, fmt.Errorf("%w: subnet with name '%s' already exists", ErrDuplicate, s.Name)
	}

	static, dhcp, err := encodeRanges(s)
	if err != nil {
		return domain.Subnet{}, err
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO subnets (name, network, vlan_id, gateway, description, static_pools, dhcp_ranges)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Name, s.Network, nullInt64(s.VLANID), s.Gateway, s.Description, static, dhcp)
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to create subnet: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to get subnet ID: %w", err)
	}

	return r.FindByID(ctx, id)
}

// updateSubnet updates an existing subnet in the database
func (r *subnetRepositoryImpl) updateSubnet(ctx context.Context, s domain.Subnet) (domain.Subnet, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subnets WHERE name = ? AND id != ?", s.Name, s.ID).Scan(&count)
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to check for duplicate subnet name: %w", err)
	}
	if count > 0 {
		return domain.Subnet{}, fmt.Errorf("%w: subnet with name '%s' already exists", ErrDuplicate, s.Name)
	}

	static, dhcp, err := encodeRanges(s)
	if err != nil {
		return domain.Subnet{}, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE subnets
		SET name = ?, network = ?, vlan_id = ?, gateway = ?, description = ?,
		    static_pools = ?, dhcp_ranges = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		s.Name, s.Network, nullInt64(s.VLANID), s.Gateway, s.Description, static, dhcp, s.ID)
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to update subnet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.Subnet{}, ErrNotFound
	}

	return r.FindByID(ctx, s.ID)
}

// FindByID retrieves a subnet by ID
func (r *subnetRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Subnet, error) {
	s, err := scanSubnet(r.db.QueryRowContext(ctx, "SELECT "+subnetColumns+" FROM subnets WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subnet{}, ErrNotFound
		}
		return domain.Subnet{}, fmt.Errorf("failed to find subnet: %w", err)
	}
	return s, nil
}

// FindByName retrieves a subnet by its unique name
func (r *subnetRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Subnet, error) {
	s, err := scanSubnet(r.db.QueryRowContext(ctx, "SELECT "+subnetColumns+" FROM subnets WHERE name = ?", name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subnet{}, ErrNotFound
		}
		return domain.Subnet{}, fmt.Errorf("failed to find subnet by name: %w", err)
	}
	return s, nil
}

// FindAll retrieves all subnets ordered by name
func (r *subnetRepositoryImpl) FindAll(ctx context.Context) ([]domain.Subnet, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+subnetColumns+" FROM subnets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query subnets: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var subnets []domain.Subnet
	for rows.Next() {
		s, err := scanSubnet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subnet: %w", err)
		}
		subnets = append(subnets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subnets: %w", err)
	}

	return subnets, nil
}

// DeleteByID deletes a subnet; its ledger rows go with it through the foreign key
func (r *subnetRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM subnets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete subnet: %w", err)
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

// ExistsByID checks if a subnet exists by ID
func (r *subnetRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subnets WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check subnet existence: %w", err)
	}
	return count > 0, nil
}

func encodeRanges(s domain.Subnet) (string, string, error) {
	static := s.StaticPools
	if static == nil {
		static = []string{}
	}
	dhcp := s.DHCPRanges
	if dhcp == nil {
		dhcp = []string{}
	}
	staticJSON, err := json.Marshal(static)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode static pools: %w", err)
	}
	dhcpJSON, err := json.Marshal(dhcp)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode dhcp ranges: %w", err)
	}
	return string(staticJSON), string(dhcpJSON), nil
}

func scanSubnet(row rowScanner) (domain.Subnet, error) {
	var (
		s                  domain.Subnet
		vlan               sql.NullInt64
		staticJSON, dhcpJS string
	)
	err := row.Scan(&s.ID, &s.Name, &s.Network, &vlan, &s.Gateway, &s.Description,
		&staticJSON, &dhcpJS, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Subnet{}, err
	}
	s.VLANID = int64Ptr(vlan)
	if err := json.Unmarshal([]byte(staticJSON), &s.StaticPools); err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to decode static pools for subnet %d: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(dhcpJS), &s.DHCPRanges); err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to decode dhcp ranges for subnet %d: %w", s.ID, err)
	}
	return s, nil
}
