package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/openbid/core"
	"github.com/cloudx-io/openbid/enclaveapi"
	"github.com/cloudx-io/openbid/identity"
	"github.com/cloudx-io/openbid/journal"
)

// EnclaveServer accepts frame connections from the parent instance and
// routes them to the auction host. Each connection carries one request
// frame, except subscribe connections which stay open and stream events.
type EnclaveServer struct {
	port uint32
	host *AuctionHost
	hub  *EventHub
}

func NewEnclaveServer(port uint32) *EnclaveServer {
	return &EnclaveServer{port: port}
}

// getEnclaveAttester attempts to get the NSM attester, returns error if not available
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

func (s *EnclaveServer) Start() error {
	cfg, err := serverBootConfig()
	if err != nil {
		return fmt.Errorf("failed to load auction config: %w", err)
	}

	jrnl, err := openJournal()
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	s.hub = NewEventHub()

	state, err := RecoverAuction(cfg, jrnl, s.hub)
	if err != nil {
		return fmt.Errorf("failed to recover auction state: %w", err)
	}
	if state.LastSeq > 0 {
		log.Printf("INFO: Recovered auction %s from journal: %d records replayed", cfg.AuctionID, state.LastSeq)
	} else {
		log.Printf("INFO: Starting fresh auction %s (closing at %d)", cfg.AuctionID, cfg.Closing)
	}

	keyManager, err := NewKeyManager()
	if err != nil {
		return fmt.Errorf("failed to initialize key manager: %w", err)
	}
	log.Printf("KeyManager initialized")

	nonces := NewNonceRegistry()
	nonces.StartExpirationCleanup(context.Background(), 10*time.Minute, 24*time.Hour)
	log.Printf("Nonce expiration cleanup started (interval: 10m, max age: 24h)")

	attester, err := getEnclaveAttester()
	if err != nil {
		log.Printf("ERROR: NSM initialization failed: %v (continuing without attestation)", err)
		attester = NoAttester{}
	}

	s.host = NewAuctionHost(HostConfig{
		AuctionID: cfg.AuctionID,
		Engine:    state.Engine,
		Vault:     state.Vault,
		Roles:     state.Roles,
		Journal:   jrnl,
		Keys:      keyManager,
		Attester:  attester,
		Hub:       s.hub,
		Nonces:    nonces,
		StartSeq:  state.LastSeq,
	})

	listener, err := s.listen()
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	maxWorkers, err := getRequiredEnvInt("ENCLAVE_MAX_WORKERS")
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}
	semaphore := make(chan struct{}, maxWorkers)

	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *EnclaveServer) listen() (net.Listener, error) {
	if os.Getenv("LISTEN_MODE") == "tcp" {
		addr := getEnvDefault("ENCLAVE_TCP_ADDR", "127.0.0.1:5000")
		log.Printf("INFO: Auction service listening on tcp %s", addr)
		return net.Listen("tcp", addr)
	}
	log.Printf("INFO: Auction service listening on vsock port %d", s.port)
	return vsock.Listen(s.port, nil)
}

func (s *EnclaveServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	var frame enclaveapi.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return
	}

	log.Printf("INFO: Received request type: %s", frame.Type)

	if frame.Type == enclaveapi.TypeSubscribe {
		s.serveSubscriber(conn, raw)
		return
	}

	response := s.host.Handle(frame.Type, raw)

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	} else {
		log.Printf("INFO: Successfully sent response for %s", frame.Type)
	}
}

// serveSubscriber holds the connection open and streams auction events
// until the peer disconnects. The worker slot stays occupied for the
// lifetime of the stream.
func (s *EnclaveServer) serveSubscriber(conn net.Conn, raw []byte) {
	var req enclaveapi.SubscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Printf("ERROR: Failed to decode subscribe request: %v", err)
		return
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(okResponse(enclaveapi.TypeSubscribe, req.RequestID)); err != nil {
		log.Printf("ERROR: Failed to ack subscriber: %v", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	log.Printf("INFO: Event subscriber %d connected", id)

	closed := make(chan struct{})
	go func() {
		// Drain the read side so a peer disconnect is noticed.
		_, _ = io.Copy(io.Discard, conn)
		close(closed)
	}()

	for {
		select {
		case frame := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := enc.Encode(frame); err != nil {
				log.Printf("INFO: Event subscriber %d disconnected: %v", id, err)
				return
			}
		case <-closed:
			log.Printf("INFO: Event subscriber %d closed the stream", id)
			return
		}
	}
}

// serverBootConfig reads the auction identity from the environment. The
// account-typed values must be well-formed so config typos surface at
// boot instead of at settlement.
func serverBootConfig() (BootConfig, error) {
	auctionID, err := getRequiredEnv("AUCTION_ID")
	if err != nil {
		return BootConfig{}, err
	}
	beneficiary, err := getRequiredEnv("AUCTION_BENEFICIARY")
	if err != nil {
		return BootConfig{}, err
	}
	admin, err := getRequiredEnv("AUCTION_ADMIN")
	if err != nil {
		return BootConfig{}, err
	}
	house, err := getRequiredEnv("AUCTION_HOUSE")
	if err != nil {
		return BootConfig{}, err
	}
	closing, err := getRequiredEnvInt64("AUCTION_CLOSING")
	if err != nil {
		return BootConfig{}, err
	}

	for _, account := range []string{beneficiary, admin, house} {
		if _, err := identity.ParseAccount(core.Account(account)); err != nil {
			return BootConfig{}, fmt.Errorf("configured account %q: %w", account, err)
		}
	}

	return BootConfig{
		AuctionID:   auctionID,
		Beneficiary: core.Account(beneficiary),
		Admin:       core.Account(admin),
		House:       core.Account(house),
		Closing:     closing,
	}, nil
}

// openJournal opens the file journal at JOURNAL_DIR, or disables
// journaling when the variable is unset.
func openJournal() (journal.Journal, error) {
	dir := os.Getenv("JOURNAL_DIR")
	if dir == "" {
		log.Printf("INFO: JOURNAL_DIR not set, journaling disabled (state will not survive restarts)")
		return journal.NopJournal{}, nil
	}
	j, err := journal.NewFileJournal(dir)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Journal open at %s", dir)
	return j, nil
}

// Helper function for required environment variable parsing
func getRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func getRequiredEnvInt(key string) (int, error) {
	value, err := getRequiredEnv(key)
	if err != nil {
		return 0, err
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func getRequiredEnvInt64(key string) (int64, error) {
	value, err := getRequiredEnv(key)
	if err != nil {
		return 0, err
	}

	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func getEnvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	port := uint32(5000)
	if v := os.Getenv("ENCLAVE_PORT"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			log.Fatalf("invalid ENCLAVE_PORT %q: %v", v, err)
		}
		port = uint32(parsed)
	}

	server := NewEnclaveServer(port)
	log.Fatal(server.Start())
}
