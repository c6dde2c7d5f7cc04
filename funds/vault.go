package funds

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/cloudx-io/openbid/core"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrTransferRefused   = errors.New("transfer refused")
)

// Vault holds account balances for everyone touching the auction house:
// bidders topping up, the house escrow account, the beneficiary, and the
// fee recipient. It is the in-process stand-in for external payment
// rails, with a refusal list so operators and tests can drill the
// engine's transfer-failure paths.
type Vault struct {
	mu       sync.Mutex
	balances map[core.Account]*big.Int
	refused  map[core.Account]bool
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{
		balances: make(map[core.Account]*big.Int),
		refused:  make(map[core.Account]bool),
	}
}

// Credit adds amount to an account balance. Deposits arrive here before a
// bid can escrow them.
func (v *Vault) Credit(account core.Account, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(account, amount)
	return nil
}

// credit adds amount to an account balance. Callers hold v.mu.
func (v *Vault) credit(account core.Account, amount *big.Int) {
	balance, ok := v.balances[account]
	if !ok {
		balance = big.NewInt(0)
		v.balances[account] = balance
	}
	balance.Add(balance, amount)
}

// Balance returns a copy of the account balance, zero for unknown
// accounts.
func (v *Vault) Balance(account core.Account) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.balances[account]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// FailTransfersTo makes every disbursement naming account fail until
// UnfailTransfersTo lifts the block.
func (v *Vault) FailTransfersTo(account core.Account) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refused[account] = true
}

// UnfailTransfersTo lifts a FailTransfersTo block.
func (v *Vault) UnfailTransfersTo(account core.Account) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.refused, account)
}

// EscrowTreasury adapts a vault to the engine's treasury interface.
// Collect moves bid value from the bidder into the house account;
// Disburse pays out of the house account. A disbursement carrying
// multiple payments applies all of them or none.
type EscrowTreasury struct {
	vault *Vault
	house core.Account
}

var _ core.Treasury = (*EscrowTreasury)(nil)

// NewEscrowTreasury binds a vault to the house escrow account.
func NewEscrowTreasury(vault *Vault, house core.Account) *EscrowTreasury {
	return &EscrowTreasury{vault: vault, house: house}
}

// House returns the escrow account payments are collected into.
func (t *EscrowTreasury) House() core.Account {
	return t.house
}

func (t *EscrowTreasury) Collect(from core.Account, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v := t.vault
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.balances[from]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s", ErrInsufficientFunds, from)
	}
	balance.Sub(balance, amount)
	v.credit(t.house, amount)
	return nil
}

func (t *EscrowTreasury) Disburse(payments ...core.Payment) error {
	v := t.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	// Validate the whole batch before touching any balance.
	total := big.NewInt(0)
	for _, p := range payments {
		if p.Amount == nil || p.Amount.Sign() < 0 {
			return ErrInvalidAmount
		}
		if v.refused[p.To] {
			return fmt.Errorf("%w: recipient %s", ErrTransferRefused, p.To)
		}
		total.Add(total, p.Amount)
	}
	house, ok := v.balances[t.house]
	if !ok || house.Cmp(total) < 0 {
		return fmt.Errorf("%w: house account %s", ErrInsufficientFunds, t.house)
	}

	house.Sub(house, total)
	for _, p := range payments {
		if p.Amount.Sign() == 0 {
			continue
		}
		v.credit(p.To, p.Amount)
	}
	return nil
}
