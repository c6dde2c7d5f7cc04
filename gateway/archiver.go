package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudx-io/openbid/archive"
	"github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/enclaveapi/parsing"
)

// Archiver persists the auction's observable history: one row per
// pushed event, plus the settlement row built from the finalize
// response's signed receipt.
type Archiver struct {
	auctionID   string
	events      archive.EventStore
	settlements archive.SettlementStore
	log         *slog.Logger
}

func NewArchiver(auctionID string, events archive.EventStore, settlements archive.SettlementStore, log *slog.Logger) *Archiver {
	return &Archiver{
		auctionID:   auctionID,
		events:      events,
		settlements: settlements,
		log:         log,
	}
}

// RecordEvent writes one pushed frame to the event store. Archive
// failures are logged, not propagated: the live event fanout must not
// stall on a slow store.
func (a *Archiver) RecordEvent(ctx context.Context, frame enclaveapi.EventFrame) {
	event := &archive.Event{
		AuctionID: a.auctionID,
		Kind:      frame.Event,
		Account:   frame.Account,
		Amount:    frame.Amount,
		Closing:   frame.Closing,
		At:        frame.At,
	}
	if err := a.events.Insert(ctx, event); err != nil {
		a.log.Error("failed to archive event", "event", frame.Event, "err", err)
	}
}

// RecordSettlement decodes the signed receipt out of a finalize
// response and stores the settlement row. A duplicate insert is not an
// error: finalize is idempotent at the service and may be relayed more
// than once.
func (a *Archiver) RecordSettlement(ctx context.Context, resp *enclaveapi.FinalizeResponse) error {
	raw, err := resp.Receipt.Decode()
	if err != nil {
		return fmt.Errorf("decode receipt: %w", err)
	}
	payload, err := parsing.ExtractCOSEPayload(raw)
	if err != nil {
		return fmt.Errorf("extract receipt payload: %w", err)
	}
	receipt, err := enclaveapi.DecodeSettlementReceipt(payload)
	if err != nil {
		return fmt.Errorf("decode receipt payload: %w", err)
	}

	standings := make([]archive.Standing, len(receipt.Standings))
	for i, s := range receipt.Standings {
		standings[i] = archive.Standing{Account: s.Account, Deposit: s.Deposit}
	}

	settlement := &archive.Settlement{
		AuctionID:   receipt.AuctionID,
		Winner:      receipt.Winner,
		Amount:      receipt.Amount,
		Fee:         receipt.Fee,
		Payout:      receipt.Payout,
		ReceiptCOSE: resp.Receipt.String(),
		FinalizedAt: receipt.FinalizedAt,
		Standings:   standings,
	}

	err = a.settlements.Insert(ctx, settlement)
	if errors.Is(err, archive.ErrDuplicateKey) {
		a.log.Info("settlement already archived", "auction", receipt.AuctionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("store settlement: %w", err)
	}

	a.log.Info("settlement archived",
		"auction", receipt.AuctionID,
		"winner", receipt.Winner,
		"amount", receipt.Amount)
	return nil
}
