package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_inventory_tables",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE subnets (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						network TEXT NOT NULL,
						vlan_id INTEGER,
						gateway TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						static_pools TEXT NOT NULL DEFAULT '[]',
						dhcp_ranges TEXT NOT NULL DEFAULT '[]',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`
					CREATE TABLE servers (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						uuid TEXT UNIQUE,
						hostname TEXT NOT NULL,
						ip_address TEXT NOT NULL DEFAULT '',
						nic_mac TEXT NOT NULL DEFAULT '',
						bmc_ip TEXT NOT NULL DEFAULT '',
						bmc_mac TEXT NOT NULL DEFAULT '',
						manufacture TEXT NOT NULL DEFAULT '',
						product_name TEXT NOT NULL DEFAULT '',
						cpu TEXT NOT NULL DEFAULT '',
						core_count INTEGER NOT NULL DEFAULT 0,
						sockets INTEGER NOT NULL DEFAULT 0,
						total_mem INTEGER NOT NULL DEFAULT 0,
						disk_count INTEGER NOT NULL DEFAULT 0,
						os TEXT NOT NULL DEFAULT '',
						os_version TEXT NOT NULL DEFAULT '',
						kernel TEXT NOT NULL DEFAULT '',
						building TEXT NOT NULL DEFAULT '',
						room TEXT NOT NULL DEFAULT '',
						rack TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'active',
						data_source TEXT NOT NULL DEFAULT 'manual',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS servers`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`DROP TABLE IF EXISTS subnets`)
				return err
			},
		},
		{
			Version: 2,
			Name:    "create_ip_ledger",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE ip_ledger (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						address TEXT NOT NULL,
						sort_key BLOB NOT NULL,
						subnet_id INTEGER,
						pool TEXT NOT NULL CHECK (pool IN ('static', 'dhcp', 'unrouted')),
						status TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'assigned', 'reserved')),
						server_id INTEGER,
						is_bmc INTEGER NOT NULL DEFAULT 0,
						hostname TEXT NOT NULL DEFAULT '',
						mac_address TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						reserved_by TEXT NOT NULL DEFAULT '',
						reserved_at DATETIME,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						FOREIGN KEY (subnet_id) REFERENCES subnets(id) ON DELETE CASCADE,
						FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE SET NULL,
						UNIQUE (address, subnet_id)
					)
				`)
				if err != nil {
					return err
				}

				// NULLs are distinct in UNIQUE constraints, so unrouted rows need their own index
				_, err = tx.Exec(`CREATE UNIQUE INDEX idx_ip_ledger_unrouted_address ON ip_ledger(address) WHERE subnet_id IS NULL`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS ip_ledger`)
				return err
			},
		},
		{
			Version: 3,
			Name:    "create_audit_events",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE audit_events (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						actor TEXT NOT NULL,
						action TEXT NOT NULL,
						target TEXT NOT NULL,
						detail TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS audit_events`)
				return err
			},
		},
	}
}
