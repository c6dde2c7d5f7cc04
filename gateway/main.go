// Package main provides the parent-instance gateway: it terminates HTTP
// for browsers and services, relays signed request frames to the
// auction service inside the enclave, rebroadcasts auction events over
// WebSocket, and archives the observable history outside the enclave.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cloudx-io/openbid/archive"
	pgstore "github.com/cloudx-io/openbid/archive/postgres"
	"github.com/cloudx-io/openbid/enclaveapi"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envDefault("GATEWAY_LISTEN_ADDR", ":8080"), "HTTP listen address")
	enclaveCID := flag.Uint("enclave-cid", envUintDefault("ENCLAVE_CID", 0), "vsock context ID of the enclave (0 for TCP mode)")
	enclavePort := flag.Uint("enclave-port", envUintDefault("ENCLAVE_PORT", 5000), "vsock port of the auction service")
	enclaveAddr := flag.String("enclave-addr", envDefault("ENCLAVE_TCP_ADDR", "127.0.0.1:5000"), "TCP address of the auction service (TCP mode)")
	auctionID := flag.String("auction-id", os.Getenv("AUCTION_ID"), "auction identifier for archived rows")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (empty for in-memory archive)")
	drainDuration := flag.Duration("drain-duration", 10*time.Second, "Wait after /drain before load balancers should stop routing here")
	shutdownDuration := flag.Duration("shutdown-duration", 30*time.Second, "Maximum wait for in-flight requests during shutdown")
	enablePprof := flag.Bool("enable-pprof", false, "Enable the pprof debugging API")
	logDebug := flag.Bool("log-debug", false, "Enable debug logging")

	flag.Parse()

	level := slog.LevelInfo
	if *logDebug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if *auctionID == "" {
		log.Error("--auction-id is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, settlements, cleanup, err := createStores(ctx, *postgresDSN, log)
	if err != nil {
		log.Error("Failed to create archive stores", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	dialer := TCPDialer(*enclaveAddr)
	if *enclaveCID > 0 {
		log.Info("Dialing auction service over vsock", "cid", *enclaveCID, "port", *enclavePort)
		dialer = VsockDialer(uint32(*enclaveCID), uint32(*enclavePort))
	} else {
		log.Info("Dialing auction service over TCP", "addr", *enclaveAddr)
	}
	house := NewHouseClient(dialer)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = house.RoundTrip(pingCtx, enclaveapi.PingRequest{Type: enclaveapi.TypePing, RequestID: newRequestID()})
	pingCancel()
	if err != nil {
		log.Warn("Auction service not reachable yet, continuing", "err", err)
	} else {
		log.Info("Auction service reachable")
	}

	hub := NewHub(log)
	archiver := NewArchiver(*auctionID, events, settlements, log)
	api := NewAPI(house, hub, archiver, settlements, *auctionID, log)

	server := NewServer(&HTTPServerConfig{
		ListenAddr:               *listenAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            *drainDuration,
		GracefulShutdownDuration: *shutdownDuration,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             60 * time.Second,
	}, api)

	subscriber := NewSubscriber(house, hub, archiver, log)
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		subscriber.Run(ctx)
	}()

	server.RunInBackground()
	log.Info("Gateway started", "auction", *auctionID, "listenAddress", *listenAddr)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("Received signal, initiating graceful shutdown", "signal", sig.String())
	cancel()

	go func() {
		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			log.Error("Received second signal, forcing immediate shutdown", "signal", sig.String())
			os.Exit(1)
		case <-time.After(*shutdownDuration + 10*time.Second):
			log.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	server.Shutdown()
	<-subDone
	log.Info("Shutdown complete")
}

// createStores builds the archive stores: Postgres when a DSN is
// configured, in-process memory otherwise.
func createStores(ctx context.Context, dsn string, log *slog.Logger) (archive.EventStore, archive.SettlementStore, func(), error) {
	if dsn == "" {
		log.Info("No Postgres DSN configured, archiving in memory only")
		return archive.NewMemoryEventStore(), archive.NewMemorySettlementStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pgstore.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("Archive connected to Postgres")

	return pgstore.NewEventStore(pool), pgstore.NewSettlementStore(pool), func() { pool.Close() }, nil
}

func envDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envUintDefault(key string, fallback uint) uint {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fallback
	}
	return uint(parsed)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
