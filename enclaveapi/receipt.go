package enclaveapi

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ReceiptStanding is one final registry entry embedded in a settlement
// receipt: an account and the escrow balance it held at settlement.
type ReceiptStanding struct {
	Account string `cbor:"account" json:"account"`
	Deposit string `cbor:"deposit" json:"deposit"`
}

// SettlementReceipt is the payload signed into a COSE_Sign1 envelope at
// finalization. Amounts are wire amount strings. A receipt for an
// auction that closed with no bids has an empty Winner and zero amounts.
type SettlementReceipt struct {
	ReceiptID    string            `cbor:"receipt_id" json:"receipt_id"`
	AuctionID    string            `cbor:"auction_id" json:"auction_id"`
	Winner       string            `cbor:"winner" json:"winner"`
	Amount       string            `cbor:"amount" json:"amount"`
	Fee          string            `cbor:"fee" json:"fee"`
	Payout       string            `cbor:"payout" json:"payout"`
	Beneficiary  string            `cbor:"beneficiary" json:"beneficiary"`
	FeeRecipient string            `cbor:"fee_recipient" json:"fee_recipient"`
	Closing      int64             `cbor:"closing" json:"closing"`
	FinalizedAt  int64             `cbor:"finalized_at" json:"finalized_at"`
	Standings    []ReceiptStanding `cbor:"standings" json:"standings"`
	JournalSeq   uint64            `cbor:"journal_seq" json:"journal_seq"`
}

// Encode serializes the receipt to its CBOR payload form.
func (r SettlementReceipt) Encode() ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode settlement receipt: %w", err)
	}
	return data, nil
}

// DecodeSettlementReceipt parses a CBOR receipt payload.
func DecodeSettlementReceipt(data []byte) (SettlementReceipt, error) {
	var r SettlementReceipt
	if err := cbor.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode settlement receipt: %w", err)
	}
	return r, nil
}
