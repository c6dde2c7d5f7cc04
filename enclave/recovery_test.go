package main

import (
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/journal"
)

func TestRecoverAuction_RebuildsStateFromJournal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first, err := journal.NewFileJournal(dir)
	assert.NoError(t, err)

	f := newHostFixture(t, first)
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	carol := mustKeypair(t)

	f.deposit(t, string(alice.Account()), "300")
	f.deposit(t, string(bob.Account()), "200")
	f.placeBid(t, alice, "100")

	// Bob bids inside the anti-snipe window, pushing closing to 2600.
	f.clock.now = testClosing - 500
	bid, ok := f.placeBid(t, bob, "105").(enclaveapi.PlaceBidResponse)
	assert.True(t, ok)
	assert.True(t, bid.Success)
	assert.Equal(t, testClosing+core.ExtensionSeconds, bid.Closing)

	// Alice retakes the lead inside the extended window, pushing to 3200.
	f.clock.now = testClosing + core.ExtensionSeconds - 50
	bid, ok = f.placeBid(t, alice, "120.75").(enclaveapi.PlaceBidResponse)
	assert.True(t, ok)
	assert.True(t, bid.Success)
	assert.Equal(t, testClosing+2*core.ExtensionSeconds, bid.Closing)

	f.clock.now = testClosing + 2*core.ExtensionSeconds + 100
	fin, ok := f.finalize(t, f.admin).(enclaveapi.FinalizeResponse)
	assert.True(t, ok)
	assert.True(t, fin.Success)

	wd, ok := f.withdraw(t, bob, enclaveapi.WithdrawPathLosing).(enclaveapi.WithdrawResponse)
	assert.True(t, ok)
	assert.True(t, wd.Success)

	// Alice's residual claim is forfeited by a failing transfer.
	f.vault.FailTransfersTo(alice.Account())
	resp := wireError(t, f.withdraw(t, alice, enclaveapi.WithdrawPathExcess))
	assert.Equal(t, enclaveapi.ErrorTransferFailed, resp.Error)

	xfer, ok := f.adminTransfer(t, f.admin, string(carol.Account())).(enclaveapi.AdminTransferResponse)
	assert.True(t, ok)
	assert.True(t, xfer.Success)

	originalStatus := f.status(t)
	accounts := []core.Account{
		alice.Account(), bob.Account(), carol.Account(),
		f.seller.Account(), f.admin.Account(), f.house,
	}
	originalBalances := make(map[core.Account]int64, len(accounts))
	for _, account := range accounts {
		originalBalances[account] = f.vault.Balance(account).Int64()
	}

	assert.NoError(t, first.Close())

	// Boot a second service instance over the same journal directory.
	second, err := journal.NewFileJournal(dir)
	assert.NoError(t, err)
	defer second.Close()

	state, err := RecoverAuction(BootConfig{
		AuctionID:   testAuctionID,
		Beneficiary: f.seller.Account(),
		Admin:       f.admin.Account(),
		House:       f.house,
		Closing:     testClosing,
	}, second, core.NopEmitter{})
	assert.NoError(t, err)
	check.Equal(t, uint64(9), state.LastSeq)

	st := state.Engine.Status()
	check.Equal(t, originalStatus.Closed, st.Closed)
	check.Equal(t, originalStatus.Leader, string(st.Leader))
	check.Equal(t, originalStatus.Highest, enclaveapi.FormatAmount(st.Highest))
	check.Equal(t, originalStatus.Closing, st.Closing)
	check.Equal(t, originalStatus.Escrowed, enclaveapi.FormatAmount(st.Escrowed))

	for _, account := range accounts {
		check.Equal(t, originalBalances[account], state.Vault.Balance(account).Int64())
	}

	// The forfeited claim stays forfeited after the rebuild.
	check.Equal(t, int64(100_000_000), state.Vault.Balance(f.house).Int64())
	_, err = state.Engine.WithdrawExcess(alice.Account())
	check.Error(t, err)

	// The admin handoff survived the restart.
	check.Equal(t, carol.Account(), state.Roles.CurrentAdmin())
}

func TestRecoverAuction_EmptyJournal(t *testing.T) {
	t.Parallel()
	j, err := journal.NewFileJournal(t.TempDir())
	assert.NoError(t, err)
	defer j.Close()

	state, err := RecoverAuction(BootConfig{
		AuctionID:   testAuctionID,
		Beneficiary: core.Account("seller"),
		Admin:       core.Account("admin"),
		House:       core.Account("house"),
		Closing:     testClosing,
	}, j, nil)
	assert.NoError(t, err)

	check.Equal(t, uint64(0), state.LastSeq)
	st := state.Engine.Status()
	check.False(t, st.Closed)
	check.Equal(t, testClosing, st.Closing)
	check.Equal(t, int64(0), st.Escrowed.Int64())
}

func TestRecoverAuction_SequenceGapFails(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{records: []journal.Record{
		{Seq: 1, Kind: journal.KindCredit, At: 1_000, Account: "a", Amount: "10.000000"},
		{Seq: 3, Kind: journal.KindCredit, At: 1_001, Account: "a", Amount: "10.000000"},
	}}

	_, err := RecoverAuction(BootConfig{
		AuctionID: testAuctionID,
		Closing:   testClosing,
	}, j, nil)
	assert.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "journal gap"))
}

func TestRecoverAuction_RejectedRecordFails(t *testing.T) {
	t.Parallel()

	// A bid captured after the closing time can only mean the journal and
	// the engine disagree; recovery must refuse to serve from it.
	j := &recordingJournal{records: []journal.Record{
		{Seq: 1, Kind: journal.KindCredit, At: 1_000, Account: "a", Amount: "10.000000"},
		{Seq: 2, Kind: journal.KindBid, At: testClosing + 1, Account: "a", Amount: "10.000000"},
	}}

	_, err := RecoverAuction(BootConfig{
		AuctionID: testAuctionID,
		Closing:   testClosing,
	}, j, nil)
	assert.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "seq 2"))
}

func TestRecoverAuction_UnknownKindFails(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{records: []journal.Record{
		{Seq: 1, Kind: journal.Kind("teleport"), At: 1_000},
	}}

	_, err := RecoverAuction(BootConfig{
		AuctionID: testAuctionID,
		Closing:   testClosing,
	}, j, nil)
	assert.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "unknown record kind"))
}
