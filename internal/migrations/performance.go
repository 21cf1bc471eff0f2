package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	indices := []struct{ name, on string }{
		{"idx_ip_ledger_sort_key", "ip_ledger(sort_key)"},
		{"idx_ip_ledger_address", "ip_ledger(address)"},
		{"idx_ip_ledger_subnet_status", "ip_ledger(subnet_id, status)"},
		{"idx_ip_ledger_server_id", "ip_ledger(server_id)"},
		{"idx_ip_ledger_reserved_by", "ip_ledger(reserved_by)"},
		{"idx_servers_hostname", "servers(hostname)"},
		{"idx_servers_ip_address", "servers(ip_address)"},
		{"idx_audit_events_created_at", "audit_events(created_at)"},
	}

	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(tx *sql.Tx) error {
				for _, idx := range indices {
					if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS " + idx.name + " ON " + idx.on); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(tx *sql.Tx) error {
				for _, idx := range indices {
					if _, err := tx.Exec("DROP INDEX IF EXISTS " + idx.name); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
