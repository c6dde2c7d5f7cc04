package journal

import "errors"

// Errors
var (
	ErrJournalClosed  = errors.New("journal is closed")
	ErrJournalCorrupt = errors.New("journal is corrupted")
)

// Kind identifies the command a journal record captures.
type Kind string

const (
	KindCredit         Kind = "credit"
	KindBid            Kind = "bid"
	KindFinalize       Kind = "finalize"
	KindWithdrawLosing Kind = "withdraw_losing"
	KindWithdrawExcess Kind = "withdraw_excess"
	KindAdminTransfer  Kind = "admin_transfer"
)

// Record is one accepted command. It carries exactly the fields needed to
// rebuild engine state on replay; amounts travel as wire-format decimal
// strings. At is the arrival time the command was evaluated against, so
// replay reproduces time-dependent behavior such as closing extensions.
type Record struct {
	Seq       uint64 `cbor:"seq"`
	Kind      Kind   `cbor:"kind"`
	At        int64  `cbor:"at"`
	Account   string `cbor:"account,omitempty"`
	Amount    string `cbor:"amount,omitempty"`
	Closing   int64  `cbor:"closing,omitempty"`
	Winner    string `cbor:"winner,omitempty"`
	Successor string `cbor:"successor,omitempty"`

	// Forfeited marks a withdrawal whose outbound transfer failed after
	// the claim was already zeroed. Replay re-fails the transfer so the
	// rebuilt ledger forfeits the same claim.
	Forfeited bool `cbor:"forfeited,omitempty"`
}

// Journal persists accepted auction commands in order, so a crashed
// auctioneer can rebuild its engine state by replaying them.
type Journal interface {
	// Append durably records one accepted command.
	Append(rec Record) error

	// Replay streams every persisted record, oldest first, into fn.
	// Replay stops at the first fn error and returns it.
	Replay(fn func(Record) error) error

	// Close flushes and releases the journal.
	Close() error
}

// NopJournal discards appends and replays nothing. Used in development
// mode and in tests that do not exercise recovery.
type NopJournal struct{}

func (NopJournal) Append(Record) error             { return nil }
func (NopJournal) Replay(func(Record) error) error { return nil }
func (NopJournal) Close() error                    { return nil }

var _ Journal = NopJournal{}
