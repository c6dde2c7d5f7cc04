package core

import "math/big"

// Emitter receives fire-and-forget notifications about completed engine
// operations. Calls are made with the engine lock held, so implementations
// must not call back into the engine.
type Emitter interface {
	// BidAccepted reports an admitted bid together with the closing time
	// after any anti-sniping extension.
	BidAccepted(bidder Account, amount *big.Int, closing int64)

	// Finalized reports the auction outcome. With no bids the winner is
	// empty and the amount zero.
	Finalized(winner Account, amount *big.Int)

	// Withdrawn reports a completed withdrawal on either path.
	Withdrawn(participant Account, amount *big.Int)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) BidAccepted(Account, *big.Int, int64) {}
func (NopEmitter) Finalized(Account, *big.Int)          {}
func (NopEmitter) Withdrawn(Account, *big.Int)          {}
