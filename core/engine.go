package core

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Engine runs a single-lot ascending auction. It owns the leader record,
// the cumulative deposit ledger, the participant registry, and the
// lifecycle flag, and it serializes every operation through one mutex so
// that all state mutation happens before any outbound treasury call.
//
// Deposits accumulate: every admitted bid adds to the bidder's ledger
// entry, and superseded bids remain withdrawable as excess. Time-dependent
// behavior is evaluated lazily against the clock at call time; the engine
// schedules nothing and never retries a failed transfer.
type Engine struct {
	mu sync.Mutex

	beneficiary Account
	closing     int64
	closed      bool

	leader  Account
	highest *big.Int

	ledger   map[Account]*big.Int
	order    []Account
	seen     map[Account]bool
	escrowed *big.Int

	treasury Treasury
	admin    AdminSource
	emitter  Emitter
	nowFn    func() int64
}

// NewEngine constructs an active auction with the supplied parameters and
// collaborators. A nil emitter drops all notifications.
func NewEngine(params Params, treasury Treasury, admin AdminSource, emitter Emitter) *Engine {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Engine{
		beneficiary: params.Beneficiary,
		closing:     params.Closing,
		highest:     big.NewInt(0),
		ledger:      make(map[Account]*big.Int),
		seen:        make(map[Account]bool),
		escrowed:    big.NewInt(0),
		treasury:    treasury,
		admin:       admin,
		emitter:     emitter,
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for deterministic testing and
// journal replay. Passing nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Beneficiary returns the account that receives the winning bid minus the
// platform fee.
func (e *Engine) Beneficiary() Account {
	return e.beneficiary
}

// Fee returns the platform fee for a winning amount: FeePercent of the
// amount, rounded down.
func Fee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(FeePercent))
	return fee.Div(fee, big.NewInt(100))
}

// MinimumBid returns the smallest amount a new bid must reach to be
// admitted: the current highest bid plus MinIncrementPercent rounded up,
// or one base unit before the first bid.
func (e *Engine) MinimumBid() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.minimumBid()
}

// minimumBid computes the admission threshold. Callers hold e.mu.
func (e *Engine) minimumBid() *big.Int {
	if e.highest.Sign() == 0 {
		return big.NewInt(1)
	}
	increment := new(big.Int).Mul(e.highest, big.NewInt(MinIncrementPercent))
	increment.Add(increment, big.NewInt(99))
	increment.Div(increment, big.NewInt(100))
	return increment.Add(increment, e.highest)
}

// PlaceBid admits a bid and escrows the full amount through the treasury.
// Rejections leave no trace: the auction must still be open, and the
// amount must meet the minimum admission threshold. An admitted bid that
// arrives inside the anti-snipe window pushes the closing time out by
// ExtensionSeconds; extensions chain, each granted against the arrival
// time of its own bid.
func (e *Engine) PlaceBid(bidder Account, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	if e.closed || now >= e.closing {
		return ErrAuctionClosed
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientBid
	}
	if amount.Cmp(e.minimumBid()) < 0 {
		return ErrInsufficientBid
	}

	if err := e.treasury.Collect(bidder, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if now >= e.closing-AntiSnipeWindow {
		e.closing += ExtensionSeconds
	}

	e.leader = bidder
	e.highest = new(big.Int).Set(amount)

	balance, ok := e.ledger[bidder]
	if !ok {
		balance = big.NewInt(0)
		e.ledger[bidder] = balance
	}
	balance.Add(balance, amount)
	e.escrowed.Add(e.escrowed, amount)

	if !e.seen[bidder] {
		e.order = append(e.order, bidder)
		e.seen[bidder] = true
	}

	e.emitter.BidAccepted(bidder, new(big.Int).Set(amount), e.closing)
	return nil
}

// Finalize closes the auction, exactly once, at or after the closing
// timestamp. Any party may finalize; correctness depends only on time.
//
// With at least one bid, the platform fee goes to the current admin and
// the remainder to the beneficiary in one all-or-nothing disbursement. A
// transfer failure aborts the call with the auction still active and no
// funds moved, so finalization can be retried. On success the winner's
// ledger entry drops by exactly the winning amount, leaving any earlier
// deposits withdrawable as excess. With no bids, finalization only flips
// the lifecycle flag.
func (e *Engine) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrAuctionClosed
	}
	if e.nowFn() < e.closing {
		return ErrNotYetClosed
	}

	if e.leader == "" {
		e.closed = true
		e.emitter.Finalized("", big.NewInt(0))
		return nil
	}

	fee := Fee(e.highest)
	payout := new(big.Int).Sub(e.highest, fee)
	err := e.treasury.Disburse(
		Payment{To: e.admin.CurrentAdmin(), Amount: fee},
		Payment{To: e.beneficiary, Amount: payout},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.closed = true
	balance := e.ledger[e.leader]
	balance.Sub(balance, e.highest)
	e.escrowed.Sub(e.escrowed, e.highest)

	e.emitter.Finalized(e.leader, new(big.Int).Set(e.highest))
	return nil
}

// WithdrawLosing refunds the full remaining deposit of a non-winning
// participant once the auction is closed, returning the amount sent. The
// ledger entry is zeroed before the transfer; if the transfer then
// fails, the zeroed claim is not restored and the funds stay escrowed.
func (e *Engine) WithdrawLosing(caller Account) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		return nil, ErrNotYetClosed
	}
	if caller == e.leader {
		return nil, ErrWinnerCannotWithdraw
	}
	balance, ok := e.ledger[caller]
	if !ok || balance.Sign() == 0 {
		return nil, ErrNoFunds
	}

	refund := new(big.Int).Set(balance)
	balance.SetInt64(0)

	if err := e.treasury.Disburse(Payment{To: caller, Amount: refund}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.escrowed.Sub(e.escrowed, refund)

	e.emitter.Withdrawn(caller, refund)
	return refund, nil
}

// WithdrawExcess refunds deposits above the caller's active claim,
// returning the amount sent, and is callable in either lifecycle state.
// While the auction is open the current leader can withdraw everything
// above the leading bid; every other caller, and the former leader once
// the auction is closed and settled, withdraws the full remaining
// balance. The ledger is decremented before the transfer, with the same
// forfeit-on-failure discipline as the losing path.
func (e *Engine) WithdrawExcess(caller Account) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	balance, ok := e.ledger[caller]
	if !ok || balance.Sign() == 0 {
		return nil, ErrNoDeposit
	}

	withdrawable := new(big.Int).Set(balance)
	if !e.closed && caller == e.leader {
		withdrawable.Sub(withdrawable, e.highest)
	}
	if withdrawable.Sign() <= 0 {
		return nil, ErrNoExcess
	}

	balance.Sub(balance, withdrawable)

	if err := e.treasury.Disburse(Payment{To: caller, Amount: withdrawable}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.escrowed.Sub(e.escrowed, withdrawable)

	e.emitter.Withdrawn(caller, withdrawable)
	return withdrawable, nil
}

// Winner reports the auction outcome once closed. The winner is empty and
// the amount zero if no bid was ever placed.
func (e *Engine) Winner() (Account, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		return "", nil, ErrNotYetClosed
	}
	return e.leader, new(big.Int).Set(e.highest), nil
}

// AllBidders enumerates every account that ever placed an admitted bid,
// in first-bid order, with current ledger balances. Registration is
// permanent: participants stay listed after withdrawing to zero. Returned
// amounts are copies.
func (e *Engine) AllBidders() []Standing {
	e.mu.Lock()
	defer e.mu.Unlock()

	standings := make([]Standing, 0, len(e.order))
	for _, bidder := range e.order {
		standings = append(standings, Standing{
			Bidder:  bidder,
			Deposit: new(big.Int).Set(e.ledger[bidder]),
		})
	}
	return standings
}

// Status returns a consistent snapshot of the auction state. Returned
// amounts are copies.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		Leader:   e.leader,
		Highest:  new(big.Int).Set(e.highest),
		Closing:  e.closing,
		Closed:   e.closed,
		Escrowed: new(big.Int).Set(e.escrowed),
	}
}
