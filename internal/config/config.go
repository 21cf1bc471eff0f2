package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/migrations"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

// Config holds all configuration for the ipamd service
type Config struct {
	DBPath string `yaml:"db_path"`
	Port   string `yaml:"port"`

	// AgentToken is the shared secret agents present as a bearer token.
	// Agent pushes are refused while it is empty.
	AgentToken string `yaml:"agent_token"`

	// Admins may release or edit reservations they do not own
	Admins []string `yaml:"admins"`

	// Translations maps attribute -> vendor string -> normalized value
	Translations map[string]map[string]string `yaml:"translations"`

	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath:             "~/ipamd/data/ipamd.db",
		Port:               "8080",
		AuditRetentionDays: 90,
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(c.expandPath(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if c.AuditRetentionDays < 0 {
		return fmt.Errorf("audit_retention_days must not be negative, got %d", c.AuditRetentionDays)
	}
	return nil
}

// IsAdmin reports whether actor is a privileged operator
func (c *Config) IsAdmin(actor string) bool {
	for _, admin := range c.Admins {
		if admin != "" && admin == actor {
			return true
		}
	}
	return false
}

// DSN returns the sqlite DSN for the configured database path. Pragmas ride on
// the DSN so every pooled connection gets them, and write transactions take
// the lock up front to avoid upgrade deadlocks.
func (c *Config) DSN() string {
	return "file:" + c.expandPath(c.DBPath) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// InitializeDatabase creates and configures the database connection
func (c *Config) InitializeDatabase() (*sql.DB, error) {
	dbPath := c.expandPath(c.DBPath)

	// Ensure database directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply performance optimizations
	OptimizeDatabaseConnection(db)

	if err := ApplyPragmaOptimizations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply performance optimizations: %w", err)
	}

	// Run migrations
	if err := c.runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Return original path if we can't get home dir
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// runMigrations runs all database migrations
func (c *Config) runMigrations(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)

	// Add all migrations
	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}

	// Run migrations
	if err := migrator.RunMigrations(); err != nil {
		return err
	}

	return nil
}
