package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditRecord is one persisted lifecycle event.
type AuditRecord struct {
	ID        string
	EventType string
	SwapID    string
	Actor     string
	State     string
	Payload   string // JSON
	CreatedAt time.Time
}

// AppendAudit stores an audit record. Duplicate ids are ignored.
func (s *Storage) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_log (id, event_type, swap_id, actor, state, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EventType, rec.SwapID, nullString(rec.Actor), nullString(rec.State),
		nullString(rec.Payload), unixNano(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail of a swap, oldest first. An empty swapID
// lists the most recent records across all swaps.
func (s *Storage) ListAudit(ctx context.Context, swapID string, limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if swapID != "" {
		rows, err = s.conn(ctx).QueryContext(ctx, `
			SELECT id, event_type, swap_id, actor, state, payload, created_at
			FROM audit_log WHERE swap_id = ? ORDER BY created_at ASC LIMIT ?
		`, swapID, limit)
	} else {
		rows, err = s.conn(ctx).QueryContext(ctx, `
			SELECT id, event_type, swap_id, actor, state, payload, created_at
			FROM audit_log ORDER BY created_at DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var (
			rec                   AuditRecord
			actor, state, payload sql.NullString
			createdAt             int64
		)
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.SwapID, &actor, &state, &payload, &createdAt); err != nil {
			return nil, err
		}
		rec.Actor = actor.String
		rec.State = state.String
		rec.Payload = payload.String
		rec.CreatedAt = fromUnixNano(createdAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
