package funds

import (
	"errors"
	"math/big"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/openbid/core"
)

const (
	house       = core.Account("house")
	beneficiary = core.Account("beneficiary")
	platform    = core.Account("platform_fees")
	alice       = core.Account("alice")
	bob         = core.Account("bob")
)

func TestVault_CreditAndBalance(t *testing.T) {
	v := NewVault()

	check.Equal(t, int64(0), v.Balance(alice).Int64())
	assert.Nil(t, v.Credit(alice, big.NewInt(500)))
	assert.Nil(t, v.Credit(alice, big.NewInt(250)))
	check.Equal(t, int64(750), v.Balance(alice).Int64())

	// Returned balances are copies.
	v.Balance(alice).SetInt64(0)
	check.Equal(t, int64(750), v.Balance(alice).Int64())
}

func TestVault_CreditRejectsNonPositive(t *testing.T) {
	v := NewVault()
	check.True(t, errors.Is(v.Credit(alice, big.NewInt(0)), ErrInvalidAmount))
	check.True(t, errors.Is(v.Credit(alice, big.NewInt(-1)), ErrInvalidAmount))
	check.True(t, errors.Is(v.Credit(alice, nil), ErrInvalidAmount))
}

func TestEscrowTreasury_Collect(t *testing.T) {
	v := NewVault()
	treasury := NewEscrowTreasury(v, house)
	assert.Nil(t, v.Credit(alice, big.NewInt(300)))

	assert.Nil(t, treasury.Collect(alice, big.NewInt(200)))
	check.Equal(t, int64(100), v.Balance(alice).Int64())
	check.Equal(t, int64(200), v.Balance(house).Int64())

	// More than the remaining balance is refused outright.
	err := treasury.Collect(alice, big.NewInt(101))
	check.True(t, errors.Is(err, ErrInsufficientFunds))
	check.Equal(t, int64(100), v.Balance(alice).Int64())
	check.Equal(t, int64(200), v.Balance(house).Int64())

	// Unknown accounts hold nothing.
	check.True(t, errors.Is(treasury.Collect(bob, big.NewInt(1)), ErrInsufficientFunds))
}

func TestEscrowTreasury_DisburseAllOrNothing(t *testing.T) {
	v := NewVault()
	treasury := NewEscrowTreasury(v, house)
	assert.Nil(t, v.Credit(house, big.NewInt(100)))

	// A refused recipient anywhere in the batch fails the whole batch
	// before any balance moves.
	v.FailTransfersTo(beneficiary)
	err := treasury.Disburse(
		core.Payment{To: platform, Amount: big.NewInt(2)},
		core.Payment{To: beneficiary, Amount: big.NewInt(98)},
	)
	check.True(t, errors.Is(err, ErrTransferRefused))
	check.Equal(t, int64(100), v.Balance(house).Int64())
	check.Equal(t, int64(0), v.Balance(platform).Int64())
	check.Equal(t, int64(0), v.Balance(beneficiary).Int64())

	v.UnfailTransfersTo(beneficiary)
	assert.Nil(t, treasury.Disburse(
		core.Payment{To: platform, Amount: big.NewInt(2)},
		core.Payment{To: beneficiary, Amount: big.NewInt(98)},
	))
	check.Equal(t, int64(0), v.Balance(house).Int64())
	check.Equal(t, int64(2), v.Balance(platform).Int64())
	check.Equal(t, int64(98), v.Balance(beneficiary).Int64())
}

func TestEscrowTreasury_DisburseInsufficientHouseFunds(t *testing.T) {
	v := NewVault()
	treasury := NewEscrowTreasury(v, house)
	assert.Nil(t, v.Credit(house, big.NewInt(50)))

	err := treasury.Disburse(
		core.Payment{To: platform, Amount: big.NewInt(30)},
		core.Payment{To: beneficiary, Amount: big.NewInt(21)},
	)
	check.True(t, errors.Is(err, ErrInsufficientFunds))
	check.Equal(t, int64(50), v.Balance(house).Int64())
}

func TestEscrowTreasury_DisburseToleratesZeroPayments(t *testing.T) {
	// Finalizing a tiny winning bid produces a zero platform fee; the
	// batch must still settle.
	v := NewVault()
	treasury := NewEscrowTreasury(v, house)
	assert.Nil(t, v.Credit(house, big.NewInt(10)))

	assert.Nil(t, treasury.Disburse(
		core.Payment{To: platform, Amount: big.NewInt(0)},
		core.Payment{To: beneficiary, Amount: big.NewInt(10)},
	))
	check.Equal(t, int64(0), v.Balance(platform).Int64())
	check.Equal(t, int64(10), v.Balance(beneficiary).Int64())
}

// TestEscrowTreasury_FullAuction drives the real engine against a vault
// from first deposit to final withdrawal and checks every account.
func TestEscrowTreasury_FullAuction(t *testing.T) {
	v := NewVault()
	treasury := NewEscrowTreasury(v, house)
	roles := NewRoles(platform)
	e := core.NewEngine(core.Params{Beneficiary: beneficiary, Closing: 3600}, treasury, roles, nil)

	now := int64(0)
	e.SetNowFunc(func() int64 { return now })

	assert.Nil(t, v.Credit(alice, big.NewInt(100)))
	assert.Nil(t, v.Credit(bob, big.NewInt(106)))

	assert.Nil(t, e.PlaceBid(alice, big.NewInt(100)))
	now = 10
	assert.Nil(t, e.PlaceBid(bob, big.NewInt(106)))
	check.Equal(t, int64(0), v.Balance(alice).Int64())
	check.Equal(t, int64(0), v.Balance(bob).Int64())
	check.Equal(t, int64(206), v.Balance(house).Int64())

	// A bid the bidder cannot cover never reaches the ledger.
	now = 20
	err := e.PlaceBid(alice, big.NewInt(120))
	check.True(t, errors.Is(err, core.ErrTransferFailed))
	check.Equal(t, int64(106), e.Status().Highest.Int64())

	now = 3600
	assert.Nil(t, e.Finalize())
	check.Equal(t, int64(2), v.Balance(platform).Int64())
	check.Equal(t, int64(104), v.Balance(beneficiary).Int64())
	check.Equal(t, int64(100), v.Balance(house).Int64())

	refund, err := e.WithdrawLosing(alice)
	assert.Nil(t, err)
	check.Equal(t, int64(100), refund.Int64())
	check.Equal(t, int64(100), v.Balance(alice).Int64())
	check.Equal(t, int64(0), v.Balance(house).Int64())
}
