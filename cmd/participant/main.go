package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/baxromumarov/distributed-ledger/pkg/participant"
	"github.com/baxromumarov/distributed-ledger/pkg/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6001", "Address to bind this participant node")
	label := flag.String("label", "N1", "This node's label, used to name its state and log files")
	dataDir := flag.String("data-dir", "data", "Directory where this node's state and log files are stored")
	flag.Parse()

	if *label == "" {
		log.Fatal("[Participant] --label is required")
	}

	store, err := participant.Open(*label, *dataDir)
	if err != nil {
		log.Fatalf("[Participant %s] failed to open store: %v", *label, err)
	}
	defer store.Close()

	server := transport.NewServer(*addr, participant.NewHandler(store))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("[Participant %s] shutting down", *label)
		server.Stop()
	}()

	log.Printf("[Participant %s] listening on %s", *label, *addr)
	if err := server.Start(); err != nil {
		log.Fatalf("[Participant %s] server error: %v", *label, err)
	}
}
