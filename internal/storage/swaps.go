package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Swap persistence errors
var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrSwapExists   = errors.New("swap already exists")
)

// Leg sides.
const (
	SideInitiator   = "initiator"
	SideParticipant = "participant"
)

// LegRecord is one persisted asset leg.
type LegRecord struct {
	Ledger   string
	Asset    string
	Quantity uint64
}

// SwapRecord represents a persisted swap in the database.
type SwapRecord struct {
	ID          string
	Initiator   string
	Participant string
	Operator    string

	InitiatorLegs   []LegRecord
	ParticipantLegs []LegRecord

	Commitment string // hex
	Scheme     string
	Secret     string // hex, set on completion

	CreatedAt time.Time
	Timeout   time.Duration
	Deadline  time.Time

	State       string
	Nonce       uint64
	UpdatedAt   time.Time
	FinalizedAt time.Time
}

// SwapFilter narrows ListSwaps.
type SwapFilter struct {
	State          string
	Account        string    // initiator, participant or operator
	DeadlineBefore time.Time // only swaps whose deadline is not after this instant
	After          string    // only swaps created after this swap id
	Limit          int
}

// CreateSwap inserts a new swap and its legs. Returns ErrSwapExists if the
// id is already taken.
func (s *Storage) CreateSwap(ctx context.Context, rec *SwapRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	return s.Atomically(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		_, err := q.ExecContext(ctx, `
			INSERT INTO swaps (
				id, initiator, participant, operator,
				commitment, scheme, secret,
				created_at, timeout_ns, deadline,
				state, nonce, updated_at, finalized_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID, rec.Initiator, rec.Participant, rec.Operator,
			rec.Commitment, rec.Scheme, nullString(rec.Secret),
			unixNano(rec.CreatedAt), int64(rec.Timeout), unixNano(rec.Deadline),
			rec.State, rec.Nonce, unixNano(rec.UpdatedAt), nullInt64(unixNano(rec.FinalizedAt)),
		)
		if err != nil {
			if isConstraintError(err) {
				return ErrSwapExists
			}
			return fmt.Errorf("failed to insert swap: %w", err)
		}

		if err := s.insertLegs(ctx, rec.ID, SideInitiator, rec.InitiatorLegs); err != nil {
			return err
		}
		return s.insertLegs(ctx, rec.ID, SideParticipant, rec.ParticipantLegs)
	})
}

func (s *Storage) insertLegs(ctx context.Context, swapID, side string, legs []LegRecord) error {
	for i, leg := range legs {
		_, err := s.conn(ctx).ExecContext(ctx, `
			INSERT INTO swap_legs (swap_id, side, position, ledger, asset, quantity)
			VALUES (?, ?, ?, ?, ?, ?)
		`, swapID, side, i, leg.Ledger, leg.Asset, leg.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert %s leg %d: %w", side, i, err)
		}
	}
	return nil
}

// UpdateSwap persists the mutable fields of a swap: state, secret and
// timestamps. Legs and terms never change after creation.
func (s *Storage) UpdateSwap(ctx context.Context, rec *SwapRecord) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE swaps SET state = ?, secret = ?, updated_at = ?, finalized_at = ?
		WHERE id = ?
	`, rec.State, nullString(rec.Secret), unixNano(rec.UpdatedAt), nullInt64(unixNano(rec.FinalizedAt)), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update swap: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSwapNotFound
	}
	return nil
}

// GetSwap retrieves a swap by id.
func (s *Storage) GetSwap(ctx context.Context, id string) (*SwapRecord, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+swapColumns+` FROM swaps WHERE id = ?
	`, id)

	rec, err := scanSwap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}

	if err := s.loadLegs(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListSwaps returns swaps matching the filter, oldest first.
func (s *Storage) ListSwaps(ctx context.Context, f SwapFilter) ([]*SwapRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	if f.Account != "" {
		where = append(where, "(initiator = ? OR participant = ? OR operator = ?)")
		args = append(args, f.Account, f.Account, f.Account)
	}
	if !f.DeadlineBefore.IsZero() {
		where = append(where, "deadline <= ?")
		args = append(args, f.DeadlineBefore.UnixNano())
	}
	if f.After != "" {
		where = append(where, "(created_at, id) > (SELECT created_at, id FROM swaps WHERE id = ?)")
		args = append(args, f.After)
	}

	query := "SELECT " + swapColumns + " FROM swaps"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}

	var records []*SwapRecord
	for rows.Next() {
		rec, err := scanSwap(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan swap: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before loading legs: the connection pool holds a single conn.
	rows.Close()

	for _, rec := range records {
		if err := s.loadLegs(ctx, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// CountSwaps returns the number of swaps per state.
func (s *Storage) CountSwaps(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, "SELECT state, COUNT(*) FROM swaps GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count swaps: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (s *Storage) loadLegs(ctx context.Context, rec *SwapRecord) error {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT side, ledger, asset, quantity FROM swap_legs
		WHERE swap_id = ? ORDER BY side, position
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load legs: %w", err)
	}
	defer rows.Close()

	rec.InitiatorLegs = nil
	rec.ParticipantLegs = nil
	for rows.Next() {
		var (
			side string
			leg  LegRecord
		)
		if err := rows.Scan(&side, &leg.Ledger, &leg.Asset, &leg.Quantity); err != nil {
			return fmt.Errorf("failed to scan leg: %w", err)
		}
		switch side {
		case SideInitiator:
			rec.InitiatorLegs = append(rec.InitiatorLegs, leg)
		case SideParticipant:
			rec.ParticipantLegs = append(rec.ParticipantLegs, leg)
		}
	}
	return rows.Err()
}

const swapColumns = `id, initiator, participant, operator,
	commitment, scheme, secret,
	created_at, timeout_ns, deadline,
	state, nonce, updated_at, finalized_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSwap(row scanner) (*SwapRecord, error) {
	var (
		rec                          SwapRecord
		secret                       sql.NullString
		createdAt, timeout, deadline int64
		updatedAt                    int64
		finalizedAt                  sql.NullInt64
	)

	err := row.Scan(
		&rec.ID, &rec.Initiator, &rec.Participant, &rec.Operator,
		&rec.Commitment, &rec.Scheme, &secret,
		&createdAt, &timeout, &deadline,
		&rec.State, &rec.Nonce, &updatedAt, &finalizedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Secret = secret.String
	rec.CreatedAt = fromUnixNano(createdAt)
	rec.Timeout = time.Duration(timeout)
	rec.Deadline = fromUnixNano(deadline)
	rec.UpdatedAt = fromUnixNano(updatedAt)
	if finalizedAt.Valid {
		rec.FinalizedAt = fromUnixNano(finalizedAt.Int64)
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
