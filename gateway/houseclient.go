package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/openbid/enclaveapi"
)

// requestTimeout bounds one frame round trip, matching the read deadline
// the auction service puts on its side of the connection.
const requestTimeout = 30 * time.Second

// Dialer opens one connection to the auction service. The service reads
// a single request frame per connection, so every round trip dials
// fresh.
type Dialer func(ctx context.Context) (net.Conn, error)

// TCPDialer connects to the auction service over TCP, for local
// development runs outside an enclave.
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial auction service at %s: %w", addr, err)
		}
		return conn, nil
	}
}

// VsockDialer connects to the auction service inside the enclave with
// the given context ID.
func VsockDialer(cid, port uint32) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, fmt.Errorf("dial auction service at vsock %d:%d: %w", cid, port, err)
		}
		return conn, nil
	}
}

// HouseClient speaks the frame protocol with the auction service on
// behalf of HTTP callers.
type HouseClient struct {
	dial Dialer
}

func NewHouseClient(dial Dialer) *HouseClient {
	return &HouseClient{dial: dial}
}

// RoundTrip sends one request frame and returns the raw response bytes,
// leaving interpretation to the caller.
func (c *HouseClient) RoundTrip(ctx context.Context, req any) (json.RawMessage, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set connection deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("write request frame: %w", err)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return nil, fmt.Errorf("read response frame: %w", err)
	}
	return raw, nil
}

// Subscribe opens a push stream. It sends the subscribe frame, waits for
// the service's acknowledgement, and hands the open connection and its
// decoder to the caller, which owns the connection from then on.
func (c *HouseClient) Subscribe(ctx context.Context) (net.Conn, *json.Decoder, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(requestTimeout)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("set connection deadline: %w", err)
	}

	req := enclaveapi.SubscribeRequest{
		Type:      enclaveapi.TypeSubscribe,
		RequestID: newRequestID(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("write subscribe frame: %w", err)
	}

	dec := json.NewDecoder(conn)
	var ack enclaveapi.Response
	if err := dec.Decode(&ack); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	if !ack.Success {
		conn.Close()
		return nil, nil, fmt.Errorf("subscribe rejected: %s", ack.Message)
	}

	// The stream stays open indefinitely; events arrive whenever the
	// auction produces them.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("clear connection deadline: %w", err)
	}
	return conn, dec, nil
}
