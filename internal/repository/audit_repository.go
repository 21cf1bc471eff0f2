package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/jbweber/homelab/ipamd/internal/domain"
)

// AuditRepository records who changed what
type AuditRepository interface {
	Record(ctx context.Context, event domain.AuditEvent) error
	FindRecent(ctx context.Context, limit int) ([]domain.AuditEvent, error)
	// PurgeOlderThan deletes events older than days and returns how many went
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

type auditRepositoryImpl struct {
	db DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepositoryImpl{db: db}
}

func (r *auditRepositoryImpl) Record(ctx context.Context, e domain.AuditEvent) error {
	if e.Actor == "" || e.Action == "" {
		return fmt.Errorf("%w: audit events need an actor and an action", ErrInvalidEntity)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (actor, action, target, detail, created_at)
		VALUES (?, ?, ?, ?, COALESCE(NULLIF(?, ''), CURRENT_TIMESTAMP))`,
		e.Actor, e.Action, e.Target, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

func (r *auditRepositoryImpl) FindRecent(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor, action, target, detail, created_at
		FROM audit_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

func (r *auditRepositoryImpl) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("%w: retention must not be negative", ErrInvalidEntity)
	}
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}
