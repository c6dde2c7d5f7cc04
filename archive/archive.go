// Package archive persists the auction's observable history outside the
// enclave: the event stream pushed over subscribe connections and the
// final settlement. The gateway writes to it; auditors read from it.
package archive

import (
	"context"
	"errors"
)

// Storage errors for append-only stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key
	// already exists. The archive is append-only and never updates.
	ErrDuplicateKey = errors.New("duplicate key: archive is append-only")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Event is one auction event as pushed over the subscribe stream. Seq is
// assigned by the store at insert, in arrival order.
type Event struct {
	Seq       int64
	AuctionID string
	Kind      string
	Account   string
	Amount    string
	Closing   int64
	At        int64
}

// Standing is one registry entry captured at settlement.
type Standing struct {
	Account string `json:"account"`
	Deposit string `json:"deposit"`
}

// Settlement is the archived outcome of a finalized auction. Amounts are
// wire amount strings, archived exactly as the service reported them.
// ReceiptCOSE is the base64 signed receipt, empty if receipt generation
// failed at finalization.
type Settlement struct {
	AuctionID   string
	Winner      string
	Amount      string
	Fee         string
	Payout      string
	ReceiptCOSE string
	FinalizedAt int64
	Standings   []Standing
}

// EventStore records the auction event stream.
type EventStore interface {
	// Insert appends an event and assigns e.Seq.
	Insert(ctx context.Context, e *Event) error

	// ListByAuction retrieves all events for an auction in insertion order.
	ListByAuction(ctx context.Context, auctionID string) ([]*Event, error)

	// ListSince retrieves events for an auction with Seq > after, in
	// insertion order.
	ListSince(ctx context.Context, auctionID string, after int64) ([]*Event, error)
}

// SettlementStore records final auction outcomes.
type SettlementStore interface {
	// Insert adds a settlement. Returns ErrDuplicateKey if the auction is
	// already settled.
	Insert(ctx context.Context, s *Settlement) error

	// Get retrieves a settlement. Returns ErrNotFound if the auction has
	// not settled.
	Get(ctx context.Context, auctionID string) (*Settlement, error)
}
