package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/openbid/enclaveapi"
)

// fakeHouse stands in for the auction service: it accepts frame
// connections on a local TCP port and replies from a table of canned
// responses keyed by frame type. Subscribe connections are acked,
// streamed the configured events, and then closed.
type fakeHouse struct {
	listener net.Listener

	mu              sync.Mutex
	replies         map[string]any
	events          []enclaveapi.EventFrame
	rejectSubscribe bool
	requests        []json.RawMessage
	accepted        int
}

func newFakeHouse(t *testing.T) *fakeHouse {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	f := &fakeHouse{
		listener: listener,
		replies:  make(map[string]any),
	}
	go f.acceptLoop()
	t.Cleanup(func() { listener.Close() })
	return f
}

func (f *fakeHouse) addr() string {
	return f.listener.Addr().String()
}

func (f *fakeHouse) dialer() Dialer {
	return TCPDialer(f.addr())
}

func (f *fakeHouse) reply(frameType string, resp any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[frameType] = resp
}

func (f *fakeHouse) pushOnSubscribe(events ...enclaveapi.EventFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

func (f *fakeHouse) setRejectSubscribe(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectSubscribe = v
}

func (f *fakeHouse) acceptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *fakeHouse) recorded() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

func (f *fakeHouse) acceptLoop() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.accepted++
		f.mu.Unlock()
		go f.serve(conn)
	}
}

func (f *fakeHouse) serve(conn net.Conn) {
	defer conn.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return
	}
	var frame enclaveapi.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, raw)
	reply, ok := f.replies[frame.Type]
	events := slices.Clone(f.events)
	reject := f.rejectSubscribe
	f.mu.Unlock()

	enc := json.NewEncoder(conn)
	if frame.Type == enclaveapi.TypeSubscribe {
		if reject {
			_ = enc.Encode(enclaveapi.Response{Type: frame.Type, Success: false, Error: enclaveapi.ErrorBusy, Message: "no workers available"})
			return
		}
		if err := enc.Encode(enclaveapi.Response{Type: frame.Type, Success: true}); err != nil {
			return
		}
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return
			}
		}
		return
	}

	if !ok {
		reply = enclaveapi.Response{Type: frame.Type, Success: true}
	}
	_ = enc.Encode(reply)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitUntil polls cond until it holds or the timeout passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// receiptFixture wraps a receipt in the untagged COSE_Sign1 array shape
// the auction service produces. The signature bytes are junk; the
// archiver only extracts the payload.
func receiptFixture(t *testing.T, receipt enclaveapi.SettlementReceipt) enclaveapi.ReceiptCOSEBase64 {
	t.Helper()
	payload, err := receipt.Encode()
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int64]any{1: int64(cose.AlgorithmES384)})
	assert.NoError(t, err)

	coseBytes, err := cbor.Marshal([]any{protected, map[string]any{}, payload, []byte{0x04, 0x05, 0x06}})
	assert.NoError(t, err)
	return enclaveapi.ReceiptCOSE(coseBytes).EncodeBase64()
}

// settledReceipt builds an internally consistent receipt for a settled
// auction.
func settledReceipt() enclaveapi.SettlementReceipt {
	return enclaveapi.SettlementReceipt{
		ReceiptID:    "f3b41377-5b1c-4bd8-9d21-6d33c0ee7a5b",
		AuctionID:    "auction-42",
		Winner:       "acct-bob",
		Amount:       "105.000000",
		Fee:          "2.100000",
		Payout:       "102.900000",
		Beneficiary:  "acct-seller",
		FeeRecipient: "acct-admin",
		Closing:      2000,
		FinalizedAt:  2100,
		Standings: []enclaveapi.ReceiptStanding{
			{Account: "acct-alice", Deposit: "100.000000"},
			{Account: "acct-bob", Deposit: "0.000000"},
		},
		JournalSeq: 5,
	}
}
