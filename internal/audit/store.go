package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/klingon-swap/internal/storage"
)

// StoreSink appends events to the audit_log table.
type StoreSink struct {
	store *storage.Storage
}

// NewStoreSink creates a sink over store.
func NewStoreSink(store *storage.Storage) *StoreSink {
	return &StoreSink{store: store}
}

// Notify persists e.
func (s *StoreSink) Notify(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	return s.store.AppendAudit(ctx, &storage.AuditRecord{
		ID:        e.ID,
		EventType: string(e.Type),
		SwapID:    e.SwapID,
		Actor:     e.Actor,
		State:     e.State,
		Payload:   string(payload),
		CreatedAt: e.At,
	})
}

// Trail returns the stored events of a swap, oldest first.
func (s *StoreSink) Trail(ctx context.Context, swapID string, limit int) ([]Event, error) {
	recs, err := s.store.ListAudit(ctx, swapID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		var e Event
		if rec.Payload != "" {
			if err := json.Unmarshal([]byte(rec.Payload), &e); err != nil {
				return nil, fmt.Errorf("failed to decode audit event %s: %w", rec.ID, err)
			}
		} else {
			e = Event{ID: rec.ID, Type: EventType(rec.EventType), SwapID: rec.SwapID, Actor: rec.Actor, State: rec.State, At: rec.CreatedAt}
		}
		out = append(out, e)
	}
	return out, nil
}
