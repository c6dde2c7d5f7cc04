package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestMemoryEventStore_InsertAssignsSeq(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	first := &Event{AuctionID: "auction-42", Kind: "bid_accepted", Account: "acct-alice", Amount: "100.000000", Closing: 2_000, At: 1_000}
	second := &Event{AuctionID: "auction-42", Kind: "bid_accepted", Account: "acct-bob", Amount: "105.000000", Closing: 2_000, At: 1_100}

	assert.NoError(t, store.Insert(ctx, first))
	assert.NoError(t, store.Insert(ctx, second))
	check.Equal(t, int64(1), first.Seq)
	check.Equal(t, int64(2), second.Seq)
}

func TestMemoryEventStore_ListByAuction(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	assert.NoError(t, store.Insert(ctx, &Event{AuctionID: "auction-42", Kind: "bid_accepted", Account: "acct-alice", Amount: "100.000000", At: 1_000}))
	assert.NoError(t, store.Insert(ctx, &Event{AuctionID: "other", Kind: "bid_accepted", Account: "acct-carol", Amount: "50.000000", At: 1_050}))
	assert.NoError(t, store.Insert(ctx, &Event{AuctionID: "auction-42", Kind: "finalized", Account: "acct-alice", Amount: "100.000000", At: 2_100}))

	events, err := store.ListByAuction(ctx, "auction-42")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(events))
	check.Equal(t, "bid_accepted", events[0].Kind)
	check.Equal(t, "finalized", events[1].Kind)

	// Mutating a returned event must not touch the stored copy
	events[0].Amount = "tampered"
	again, err := store.ListByAuction(ctx, "auction-42")
	assert.NoError(t, err)
	check.Equal(t, "100.000000", again[0].Amount)
}

func TestMemoryEventStore_ListSince(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	for _, account := range []string{"acct-a", "acct-b", "acct-c"} {
		assert.NoError(t, store.Insert(ctx, &Event{AuctionID: "auction-42", Kind: "bid_accepted", Account: account, At: 1_000}))
	}

	events, err := store.ListSince(ctx, "auction-42", 2)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(events))
	check.Equal(t, "acct-c", events[0].Account)
	check.Equal(t, int64(3), events[0].Seq)
}

func TestMemoryEventStore_RejectsInvalidInput(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	check.True(t, errors.Is(store.Insert(ctx, nil), ErrInvalidInput))
	check.True(t, errors.Is(store.Insert(ctx, &Event{Kind: "bid_accepted"}), ErrInvalidInput))
}

func TestMemorySettlementStore_RoundTrip(t *testing.T) {
	store := NewMemorySettlementStore()
	ctx := context.Background()

	settlement := &Settlement{
		AuctionID:   "auction-42",
		Winner:      "acct-bob",
		Amount:      "105.000000",
		Fee:         "2.100000",
		Payout:      "102.900000",
		ReceiptCOSE: "hEOhASbA",
		FinalizedAt: 2_100,
		Standings: []Standing{
			{Account: "acct-alice", Deposit: "100.000000"},
			{Account: "acct-bob", Deposit: "0.000000"},
		},
	}
	assert.NoError(t, store.Insert(ctx, settlement))

	got, err := store.Get(ctx, "auction-42")
	assert.NoError(t, err)
	check.Equal(t, "acct-bob", got.Winner)
	check.Equal(t, "2.100000", got.Fee)
	assert.Equal(t, 2, len(got.Standings))
	check.Equal(t, "acct-alice", got.Standings[0].Account)

	// Stored copy is isolated from later mutation of the input
	settlement.Standings[0].Deposit = "tampered"
	got, err = store.Get(ctx, "auction-42")
	assert.NoError(t, err)
	check.Equal(t, "100.000000", got.Standings[0].Deposit)
}

func TestMemorySettlementStore_DuplicateAndMissing(t *testing.T) {
	store := NewMemorySettlementStore()
	ctx := context.Background()

	assert.NoError(t, store.Insert(ctx, &Settlement{AuctionID: "auction-42", Amount: "0.000000", Fee: "0.000000", Payout: "0.000000"}))
	check.True(t, errors.Is(store.Insert(ctx, &Settlement{AuctionID: "auction-42"}), ErrDuplicateKey))

	_, err := store.Get(ctx, "unknown")
	check.True(t, errors.Is(err, ErrNotFound))
}
