// Package datastore bundles the repositories over one database and runs
// multi-row ledger changes inside a single transaction.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jbweber/homelab/ipamd/internal/repository"
	_ "modernc.org/sqlite"
)

// Repos is the set of repositories bound to one query surface
type Repos struct {
	Subnets repository.SubnetRepository
	Servers repository.ServerRepository
	Ledger  repository.LedgerRepository
	Audit   repository.AuditRepository
}

func newRepos(db repository.DBTX) Repos {
	return Repos{
		Subnets: repository.NewSubnetRepository(db),
		Servers: repository.NewServerRepository(db),
		Ledger:  repository.NewLedgerRepository(db),
		Audit:   repository.NewAuditRepository(db),
	}
}

// Datastore owns the database handle. Its embedded Repos run outside any
// transaction through cached prepared statements.
type Datastore struct {
	Repos
	DB    *sql.DB
	stmts *repository.PreparedStatementCache
}

// New wraps an open, migrated database
func New(db *sql.DB) *Datastore {
	stmts := repository.NewPreparedStatementCache(db)
	return &Datastore{
		Repos: newRepos(stmts),
		DB:    db,
		stmts: stmts,
	}
}

// WithTx runs fn inside one transaction, committing when fn returns nil.
// Repositories passed to fn must not be used after it returns.
func (ds *Datastore) WithTx(ctx context.Context, fn func(tx Repos) error) error {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(newRepos(tx)); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			log.Printf("failed to roll back transaction: %v", rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases cached statements and the database handle
func (ds *Datastore) Close() error {
	if err := ds.stmts.Close(); err != nil {
		log.Printf("failed to close prepared statements: %v", err)
	}
	return ds.DB.Close()
}

// CachedStatements reports how many prepared statements are cached
func (ds *Datastore) CachedStatements() int {
	return ds.stmts.Size()
}
