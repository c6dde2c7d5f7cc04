package main

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/openbid/archive"
	"github.com/cloudx-io/openbid/enclaveapi"
)

func TestArchiver_RecordEvent(t *testing.T) {
	ctx := context.Background()
	events := archive.NewMemoryEventStore()
	settlements := archive.NewMemorySettlementStore()
	archiver := NewArchiver("auction-42", events, settlements, discardLogger())

	archiver.RecordEvent(ctx, enclaveapi.EventFrame{
		Type:    enclaveapi.TypeEvent,
		Event:   enclaveapi.EventBidAccepted,
		Account: "acct-alice",
		Amount:  "100.000000",
		Closing: 2000,
		At:      1500,
	})

	rows, err := events.ListByAuction(ctx, "auction-42")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(rows))
	check.Equal(t, enclaveapi.EventBidAccepted, rows[0].Kind)
	check.Equal(t, "acct-alice", rows[0].Account)
	check.Equal(t, "100.000000", rows[0].Amount)
	check.Equal(t, int64(2000), rows[0].Closing)
	check.Equal(t, int64(1500), rows[0].At)
}

func TestArchiver_RecordSettlement(t *testing.T) {
	ctx := context.Background()
	events := archive.NewMemoryEventStore()
	settlements := archive.NewMemorySettlementStore()
	archiver := NewArchiver("auction-42", events, settlements, discardLogger())

	receipt := settledReceipt()
	resp := &enclaveapi.FinalizeResponse{
		Response: enclaveapi.Response{Type: enclaveapi.TypeFinalize, Success: true},
		Winner:   receipt.Winner,
		Amount:   receipt.Amount,
		Fee:      receipt.Fee,
		Payout:   receipt.Payout,
		Receipt:  receiptFixture(t, receipt),
	}

	assert.NoError(t, archiver.RecordSettlement(ctx, resp))

	stored, err := settlements.Get(ctx, "auction-42")
	assert.NoError(t, err)
	check.Equal(t, "acct-bob", stored.Winner)
	check.Equal(t, "105.000000", stored.Amount)
	check.Equal(t, "2.100000", stored.Fee)
	check.Equal(t, "102.900000", stored.Payout)
	check.Equal(t, int64(2100), stored.FinalizedAt)
	check.Equal(t, resp.Receipt.String(), stored.ReceiptCOSE)
	assert.Equal(t, 2, len(stored.Standings))
	check.Equal(t, "acct-alice", stored.Standings[0].Account)
	check.Equal(t, "100.000000", stored.Standings[0].Deposit)
	check.Equal(t, "acct-bob", stored.Standings[1].Account)
}

func TestArchiver_RecordSettlement_DuplicateIgnored(t *testing.T) {
	ctx := context.Background()
	archiver := NewArchiver("auction-42", archive.NewMemoryEventStore(), archive.NewMemorySettlementStore(), discardLogger())

	receipt := settledReceipt()
	resp := &enclaveapi.FinalizeResponse{
		Response: enclaveapi.Response{Type: enclaveapi.TypeFinalize, Success: true},
		Receipt:  receiptFixture(t, receipt),
	}

	assert.NoError(t, archiver.RecordSettlement(ctx, resp))
	check.NoError(t, archiver.RecordSettlement(ctx, resp))
}

func TestArchiver_RecordSettlement_MalformedReceipt(t *testing.T) {
	ctx := context.Background()
	archiver := NewArchiver("auction-42", archive.NewMemoryEventStore(), archive.NewMemorySettlementStore(), discardLogger())

	resp := &enclaveapi.FinalizeResponse{
		Response: enclaveapi.Response{Type: enclaveapi.TypeFinalize, Success: true},
		Receipt:  enclaveapi.ReceiptCOSEBase64("!!!not-base64!!!"),
	}

	check.Error(t, archiver.RecordSettlement(ctx, resp))
}
