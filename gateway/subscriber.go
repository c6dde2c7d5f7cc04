package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/cloudx-io/openbid/enclaveapi"
)

// Subscriber maintains the one upstream event subscription to the
// auction service and fans every pushed frame out to the WebSocket hub
// and the archive writer. It reconnects with exponential backoff when
// the stream drops.
type Subscriber struct {
	client   *HouseClient
	hub      *Hub
	archiver *Archiver
	log      *slog.Logger

	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
}

func NewSubscriber(client *HouseClient, hub *Hub, archiver *Archiver, log *slog.Logger) *Subscriber {
	return &Subscriber{
		client:            client,
		hub:               hub,
		archiver:          archiver,
		log:               log,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Run streams events until the context is canceled.
func (s *Subscriber) Run(ctx context.Context) {
	delay := s.ReconnectDelay

	for {
		conn, dec, err := s.client.Subscribe(ctx)
		if err != nil {
			s.log.Error("event subscription failed", "err", err, "retryIn", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			// Increase delay for next reconnect (exponential backoff)
			delay *= 2
			if delay > s.MaxReconnectDelay {
				delay = s.MaxReconnectDelay
			}
			continue
		}

		s.log.Info("event subscription established")
		delay = s.ReconnectDelay

		s.stream(ctx, conn, dec)

		select {
		case <-ctx.Done():
			return
		default:
		}
		s.log.Info("event stream dropped, reconnecting")
	}
}

// stream reads pushed frames until the connection breaks or the context
// is canceled.
func (s *Subscriber) stream(ctx context.Context, conn net.Conn, dec *json.Decoder) {
	defer conn.Close()

	// Closing the connection on cancel unblocks the pending Decode.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var frame enclaveapi.EventFrame
		if err := dec.Decode(&frame); err != nil {
			if ctx.Err() == nil {
				s.log.Error("event stream read failed", "err", err)
			}
			return
		}
		if frame.Type != enclaveapi.TypeEvent {
			s.log.Error("unexpected frame on event stream", "type", frame.Type)
			continue
		}

		s.hub.Broadcast(frame)
		s.archiver.RecordEvent(ctx, frame)
	}
}
