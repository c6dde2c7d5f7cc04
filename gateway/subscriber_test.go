package main

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/openbid/archive"
	"github.com/cloudx-io/openbid/enclaveapi"
)

func TestSubscriber_StreamsAndArchives(t *testing.T) {
	house := newFakeHouse(t)
	house.pushOnSubscribe(
		enclaveapi.EventFrame{
			Type:    enclaveapi.TypeEvent,
			Event:   enclaveapi.EventBidAccepted,
			Account: "acct-alice",
			Amount:  "100.000000",
			Closing: 2000,
			At:      1500,
		},
		enclaveapi.EventFrame{
			Type:    enclaveapi.TypeEvent,
			Event:   enclaveapi.EventBidAccepted,
			Account: "acct-bob",
			Amount:  "105.000000",
			Closing: 2100,
			At:      1600,
		},
	)

	events := archive.NewMemoryEventStore()
	hub := NewHub(discardLogger())
	archiver := NewArchiver("auction-42", events, archive.NewMemorySettlementStore(), discardLogger())

	sub := NewSubscriber(NewHouseClient(house.dialer()), hub, archiver, discardLogger())
	sub.ReconnectDelay = 10 * time.Millisecond
	sub.MaxReconnectDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Run(ctx)
	}()

	// The fake closes the stream after pushing its events, so the
	// subscriber reconnects and receives them again.
	waitUntil(t, 5*time.Second, func() bool {
		rows, err := events.ListByAuction(context.Background(), "auction-42")
		return err == nil && len(rows) >= 2 && house.acceptCount() >= 2
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop after cancel")
	}

	rows, err := events.ListByAuction(context.Background(), "auction-42")
	assert.NoError(t, err)
	check.Equal(t, enclaveapi.EventBidAccepted, rows[0].Kind)
	check.Equal(t, "acct-alice", rows[0].Account)
	check.Equal(t, "100.000000", rows[0].Amount)
	check.Equal(t, "acct-bob", rows[1].Account)
}

func TestSubscriber_RetriesAfterRejection(t *testing.T) {
	house := newFakeHouse(t)
	house.setRejectSubscribe(true)

	events := archive.NewMemoryEventStore()
	archiver := NewArchiver("auction-42", events, archive.NewMemorySettlementStore(), discardLogger())

	sub := NewSubscriber(NewHouseClient(house.dialer()), NewHub(discardLogger()), archiver, discardLogger())
	sub.ReconnectDelay = 10 * time.Millisecond
	sub.MaxReconnectDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Run(ctx)
	}()

	// Each rejected attempt is a fresh connection.
	waitUntil(t, 5*time.Second, func() bool { return house.acceptCount() >= 3 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop after cancel")
	}

	rows, err := events.ListByAuction(context.Background(), "auction-42")
	assert.NoError(t, err)
	check.Equal(t, 0, len(rows))
}
