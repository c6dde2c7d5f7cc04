package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/openbid/archive"
)

// SettlementStore implements archive.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Compile-time interface check.
var _ archive.SettlementStore = (*SettlementStore)(nil)

// Insert adds a settlement. Returns ErrDuplicateKey if the auction is
// already settled.
func (s *SettlementStore) Insert(ctx context.Context, settlement *archive.Settlement) error {
	if settlement == nil || settlement.AuctionID == "" {
		return archive.ErrInvalidInput
	}

	standings := settlement.Standings
	if standings == nil {
		standings = []archive.Standing{}
	}
	standingsJSON, err := json.Marshal(standings)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}

	query := `
		INSERT INTO settlements (
			auction_id, winner, amount, fee, payout, receipt_cose, finalized_at, standings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		settlement.AuctionID,
		settlement.Winner,
		settlement.Amount,
		settlement.Fee,
		settlement.Payout,
		settlement.ReceiptCOSE,
		settlement.FinalizedAt,
		standingsJSON,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return archive.ErrDuplicateKey
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// Get retrieves a settlement. Returns ErrNotFound if the auction has not
// settled.
func (s *SettlementStore) Get(ctx context.Context, auctionID string) (*archive.Settlement, error) {
	query := `
		SELECT auction_id, winner, amount, fee, payout, receipt_cose, finalized_at, standings
		FROM settlements
		WHERE auction_id = $1
	`

	var settlement archive.Settlement
	var standingsJSON []byte

	err := s.pool.QueryRow(ctx, query, auctionID).Scan(
		&settlement.AuctionID,
		&settlement.Winner,
		&settlement.Amount,
		&settlement.Fee,
		&settlement.Payout,
		&settlement.ReceiptCOSE,
		&settlement.FinalizedAt,
		&standingsJSON,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, archive.ErrNotFound
		}
		return nil, fmt.Errorf("get settlement: %w", err)
	}

	if err := json.Unmarshal(standingsJSON, &settlement.Standings); err != nil {
		return nil, fmt.Errorf("unmarshal standings: %w", err)
	}

	return &settlement, nil
}
