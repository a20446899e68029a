package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baxromumarov/distributed-ledger/pkg/config"
	"github.com/baxromumarov/distributed-ledger/pkg/coordinator"
	"github.com/baxromumarov/distributed-ledger/pkg/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "Address to bind the coordinator")
	nodeSpec := flag.String("nodes", "N1:127.0.0.1:6001,N2:127.0.0.1:6002,N3:127.0.0.1:6003", "Comma-separated list of node_id:host:port entries")
	dataDir := flag.String("data-dir", "data", "Directory where the coordinator transaction log is stored")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-participant dial/round-trip timeout")
	phase2Retries := flag.Int("phase2-retries", 3, "Retry attempts for an unresponsive participant during COMMIT/ABORT")
	phase2Delay := flag.Duration("phase2-retry-delay", 50*time.Millisecond, "Delay between phase-2 retry attempts")
	flag.Parse()

	nodes, err := config.ParseNodeMap(*nodeSpec)
	if err != nil {
		log.Fatalf("[Coordinator] invalid --nodes: %v", err)
	}

	txLog, err := coordinator.OpenTxLog(*dataDir)
	if err != nil {
		log.Fatalf("[Coordinator] failed to open transaction log: %v", err)
	}
	defer txLog.Close()

	client := transport.NewClient(*timeout)
	coord := coordinator.New(nodes, client, txLog)
	coord.Phase2Retries = *phase2Retries
	coord.Phase2Delay = *phase2Delay

	log.Printf("[Coordinator] recovering from %s", *dataDir)
	if err := coord.Recover(*dataDir); err != nil {
		log.Fatalf("[Coordinator] recovery failed: %v", err)
	}

	server := transport.NewServer(*addr, coordinator.NewHandler(coord))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[Coordinator] shutting down")
		server.Stop()
	}()

	log.Printf("[Coordinator] listening on %s with nodes %v", *addr, nodes.Labels())
	if err := server.Start(); err != nil {
		log.Fatalf("[Coordinator] server error: %v", err)
	}
}
