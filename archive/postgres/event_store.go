package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudx-io/openbid/archive"
)

// EventStore implements archive.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ archive.EventStore = (*EventStore)(nil)

// Insert appends an event and assigns e.Seq from the sequence column.
func (s *EventStore) Insert(ctx context.Context, e *archive.Event) error {
	if e == nil || e.AuctionID == "" {
		return archive.ErrInvalidInput
	}

	query := `
		INSERT INTO auction_events (
			auction_id, kind, account, amount, closing, at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`

	err := s.pool.QueryRow(ctx, query,
		e.AuctionID,
		e.Kind,
		e.Account,
		e.Amount,
		e.Closing,
		e.At,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("insert auction event: %w", err)
	}
	return nil
}

// ListByAuction retrieves all events for an auction in insertion order.
func (s *EventStore) ListByAuction(ctx context.Context, auctionID string) ([]*archive.Event, error) {
	query := `
		SELECT seq, auction_id, kind, account, amount, closing, at
		FROM auction_events
		WHERE auction_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list auction events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListSince retrieves events for an auction with Seq > after.
func (s *EventStore) ListSince(ctx context.Context, auctionID string, after int64) ([]*archive.Event, error) {
	query := `
		SELECT seq, auction_id, kind, account, amount, closing, at
		FROM auction_events
		WHERE auction_id = $1 AND seq > $2
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, auctionID, after)
	if err != nil {
		return nil, fmt.Errorf("list auction events since %d: %w", after, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]*archive.Event, error) {
	var events []*archive.Event

	for rows.Next() {
		var e archive.Event

		err := rows.Scan(
			&e.Seq,
			&e.AuctionID,
			&e.Kind,
			&e.Account,
			&e.Amount,
			&e.Closing,
			&e.At,
		)
		if err != nil {
			return nil, fmt.Errorf("scan auction event row: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auction event rows: %w", err)
	}

	return events, nil
}
