package main

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/funds"
	"github.com/cloudx-io/openbid/journal"
)

var errReplayedFailure = errors.New("transfer failed in original run")

// replayTreasury wraps the escrow treasury so replay can re-fail the
// transfers that failed in the original run. With failNext set the next
// Disburse returns an error without moving funds, which makes the
// engine consume the withdrawal claim again without paying it out. Off
// the replay path it is a transparent pass-through.
type replayTreasury struct {
	inner    core.Treasury
	failNext bool
}

func (t *replayTreasury) Collect(from core.Account, amount *big.Int) error {
	return t.inner.Collect(from, amount)
}

func (t *replayTreasury) Disburse(payments ...core.Payment) error {
	if t.failNext {
		t.failNext = false
		return errReplayedFailure
	}
	return t.inner.Disburse(payments...)
}

// BootConfig is the auction identity a fresh or recovering service
// starts from. It must match the run that wrote the journal.
type BootConfig struct {
	AuctionID   string
	Beneficiary core.Account
	Admin       core.Account
	House       core.Account
	Closing     int64
}

// RecoveredState holds the rebuilt collaborators plus the last journal
// sequence number applied, which seeds the host's sequence counter.
type RecoveredState struct {
	Engine  *core.Engine
	Vault   *funds.Vault
	Roles   *funds.Roles
	LastSeq uint64
}

// RecoverAuction replays the journal into a fresh engine, vault, and
// role registry. Replay pins the engine clock to each record's capture
// time so deadline checks and closing extensions come out exactly as
// they did in the original run. An empty journal yields a fresh auction,
// so cold boots and restarts share this path. Any record the engine
// refuses aborts recovery; a journal that disagrees with the engine is
// not safe to serve from.
func RecoverAuction(cfg BootConfig, j journal.Journal, emitter core.Emitter) (*RecoveredState, error) {
	vault := funds.NewVault()
	treasury := &replayTreasury{inner: funds.NewEscrowTreasury(vault, cfg.House)}
	roles := funds.NewRoles(cfg.Admin)
	engine := core.NewEngine(core.Params{
		Beneficiary: cfg.Beneficiary,
		Closing:     cfg.Closing,
	}, treasury, roles, emitter)

	var clock int64
	engine.SetNowFunc(func() int64 { return clock })

	state := &RecoveredState{Engine: engine, Vault: vault, Roles: roles}
	err := j.Replay(func(rec journal.Record) error {
		if rec.Seq != state.LastSeq+1 {
			return fmt.Errorf("journal gap: seq %d follows %d", rec.Seq, state.LastSeq)
		}
		clock = rec.At
		if err := applyRecord(engine, vault, roles, treasury, rec); err != nil {
			return fmt.Errorf("seq %d (%s): %w", rec.Seq, rec.Kind, err)
		}
		state.LastSeq = rec.Seq
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	return state, nil
}

func applyRecord(engine *core.Engine, vault *funds.Vault, roles *funds.Roles, treasury *replayTreasury, rec journal.Record) error {
	switch rec.Kind {
	case journal.KindCredit:
		amount, err := enclaveapi.ParseAmount(rec.Amount)
		if err != nil {
			return err
		}
		return vault.Credit(core.Account(rec.Account), amount)
	case journal.KindBid:
		amount, err := enclaveapi.ParseAmount(rec.Amount)
		if err != nil {
			return err
		}
		return engine.PlaceBid(core.Account(rec.Account), amount)
	case journal.KindFinalize:
		return engine.Finalize()
	case journal.KindWithdrawLosing:
		return applyWithdraw(treasury, rec, func() error {
			_, err := engine.WithdrawLosing(core.Account(rec.Account))
			return err
		})
	case journal.KindWithdrawExcess:
		return applyWithdraw(treasury, rec, func() error {
			_, err := engine.WithdrawExcess(core.Account(rec.Account))
			return err
		})
	case journal.KindAdminTransfer:
		return roles.TransferAdmin(core.Account(rec.Account), core.Account(rec.Successor))
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

// applyWithdraw re-runs a withdrawal. A record flagged as forfeited is
// replayed with a failing transfer so the rebuilt ledger forfeits the
// same claim, and the engine is expected to report that failure.
func applyWithdraw(treasury *replayTreasury, rec journal.Record, withdraw func() error) error {
	if !rec.Forfeited {
		return withdraw()
	}
	treasury.failNext = true
	err := withdraw()
	treasury.failNext = false
	if !errors.Is(err, core.ErrTransferFailed) {
		return fmt.Errorf("expected forfeited withdrawal to fail, got %v", err)
	}
	return nil
}
