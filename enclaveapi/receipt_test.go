package enclaveapi

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestSettlementReceipt_EncodeDecode(t *testing.T) {
	original := SettlementReceipt{
		ReceiptID:    "0b9af76d-4b52-4a89-9bcd-6f7f3a1c2e48",
		AuctionID:    "auction-1",
		Winner:       "bidder-c",
		Amount:       "106.000000",
		Fee:          "2.000000",
		Payout:       "104.000000",
		Beneficiary:  "beneficiary",
		FeeRecipient: "platform",
		Closing:      4200,
		FinalizedAt:  4321,
		Standings: []ReceiptStanding{
			{Account: "bidder-a", Deposit: "100.000000"},
			{Account: "bidder-c", Deposit: "0.000000"},
		},
		JournalSeq: 12,
	}

	data, err := original.Encode()
	assert.Nil(t, err)

	decoded, err := DecodeSettlementReceipt(data)
	assert.Nil(t, err)
	check.Equal(t, original, decoded)
}

func TestDecodeSettlementReceipt_Invalid(t *testing.T) {
	_, err := DecodeSettlementReceipt([]byte("definitely not cbor"))
	check.NotNil(t, err)
}
