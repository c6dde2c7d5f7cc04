package core

import "math/big"

// Account identifies an auction participant. Accounts are opaque to the
// engine: they are produced by the identity layer and compared only for
// equality.
type Account string

// Auction constants. Fee and increment percentages use integer
// arithmetic: the fee rounds down, the minimum increment rounds up.
const (
	// FeePercent is the platform fee taken from the winning bid at
	// finalization.
	FeePercent = 2

	// MinIncrementPercent is the minimum raise over the current highest
	// bid for a new bid to be admitted.
	MinIncrementPercent = 5

	// AntiSnipeWindow is the tail period, in seconds, during which an
	// accepted bid extends the closing time.
	AntiSnipeWindow = 600

	// ExtensionSeconds is added to the closing time by each bid accepted
	// inside the anti-snipe window.
	ExtensionSeconds = 600
)

// Params fixes the auction parameters at construction time. The closing
// timestamp moves only forward afterwards, via the anti-sniping rule.
type Params struct {
	// Beneficiary receives the winning bid minus the platform fee.
	Beneficiary Account

	// Closing is the initial closing timestamp in unix seconds.
	Closing int64
}

// Payment is one outbound transfer from escrow.
type Payment struct {
	To     Account  `json:"to"`
	Amount *big.Int `json:"amount"`
}

// Treasury is the value-transfer primitive the engine escrows through.
// Collect pulls bid value from a participant into escrow; Disburse pays
// out of escrow. A Disburse call carrying multiple payments must apply
// all of them or none. Any error is fatal to the enclosing engine
// operation.
type Treasury interface {
	Collect(from Account, amount *big.Int) error
	Disburse(payments ...Payment) error
}

// AdminSource resolves the platform fee recipient. The engine consults it
// exactly once per finalization, so the recipient is whoever holds the
// admin role at that moment.
type AdminSource interface {
	CurrentAdmin() Account
}

// Standing pairs a registered bidder with its current ledger balance.
type Standing struct {
	Bidder  Account  `json:"bidder"`
	Deposit *big.Int `json:"deposit"`
}

// Status is a snapshot of the externally visible auction state.
type Status struct {
	// Leader is the current highest bidder, empty until the first bid.
	Leader Account

	// Highest is the current highest bid amount, zero until the first bid.
	Highest *big.Int

	// Closing is the closing timestamp in unix seconds, including any
	// anti-sniping extensions granted so far.
	Closing int64

	// Closed reports whether the auction has been finalized.
	Closed bool

	// Escrowed is the total value currently held for participants.
	Escrowed *big.Int
}
