package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/openbid/enclaveapi"
)

func TestHouseClient_RoundTrip(t *testing.T) {
	house := newFakeHouse(t)
	house.reply(enclaveapi.TypeStatus, enclaveapi.StatusResponse{
		Response: enclaveapi.Response{Type: enclaveapi.TypeStatus, Success: true},
		Leader:   "acct-bob",
		Highest:  "105.000000",
		Closing:  2000,
		Escrowed: "105.000000",
	})

	client := NewHouseClient(house.dialer())
	raw, err := client.RoundTrip(context.Background(), enclaveapi.StatusRequest{
		Type:      enclaveapi.TypeStatus,
		RequestID: "req-1",
	})
	assert.NoError(t, err)

	var resp enclaveapi.StatusResponse
	assert.NoError(t, json.Unmarshal(raw, &resp))
	check.True(t, resp.Success)
	check.Equal(t, "acct-bob", resp.Leader)
	check.Equal(t, "105.000000", resp.Highest)
	check.Equal(t, int64(2000), resp.Closing)

	// The service saw exactly the frame we sent
	requests := house.recorded()
	assert.Equal(t, 1, len(requests))
	var sent enclaveapi.StatusRequest
	assert.NoError(t, json.Unmarshal(requests[0], &sent))
	check.Equal(t, enclaveapi.TypeStatus, sent.Type)
	check.Equal(t, "req-1", sent.RequestID)
}

func TestHouseClient_RoundTrip_DialFailure(t *testing.T) {
	house := newFakeHouse(t)
	addr := house.addr()
	house.listener.Close()

	client := NewHouseClient(TCPDialer(addr))
	_, err := client.RoundTrip(context.Background(), enclaveapi.PingRequest{Type: enclaveapi.TypePing})
	check.Error(t, err)
}

func TestHouseClient_Subscribe(t *testing.T) {
	house := newFakeHouse(t)
	house.pushOnSubscribe(
		enclaveapi.EventFrame{Type: enclaveapi.TypeEvent, Event: enclaveapi.EventBidAccepted, Account: "acct-alice", Amount: "100.000000", Closing: 2000, At: 1000},
		enclaveapi.EventFrame{Type: enclaveapi.TypeEvent, Event: enclaveapi.EventFinalized, Account: "acct-alice", Amount: "100.000000", At: 2100},
	)

	client := NewHouseClient(house.dialer())
	conn, dec, err := client.Subscribe(context.Background())
	assert.NoError(t, err)
	defer conn.Close()

	var first, second enclaveapi.EventFrame
	assert.NoError(t, dec.Decode(&first))
	assert.NoError(t, dec.Decode(&second))
	check.Equal(t, enclaveapi.EventBidAccepted, first.Event)
	check.Equal(t, "acct-alice", first.Account)
	check.Equal(t, int64(2000), first.Closing)
	check.Equal(t, enclaveapi.EventFinalized, second.Event)
	check.Equal(t, int64(2100), second.At)
}

func TestHouseClient_Subscribe_Rejected(t *testing.T) {
	house := newFakeHouse(t)
	house.setRejectSubscribe(true)

	client := NewHouseClient(house.dialer())
	_, _, err := client.Subscribe(context.Background())
	check.Error(t, err)
}
