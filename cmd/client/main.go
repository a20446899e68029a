package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/baxromumarov/distributed-ledger/pkg/transport"
	"github.com/baxromumarov/distributed-ledger/pkg/wire"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "transfer":
		transfer()
	case "read":
		read()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Distributed ledger client")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  client transfer --coord=<addr> --from-node=<N> --from-account=<id> --to-node=<N> --to-account=<id> --amount=<n>")
	fmt.Println("      Request a money transfer through the coordinator and wait for COMMIT/ABORT.")
	fmt.Println("")
	fmt.Println("  client read --node=<addr> --account=<id>")
	fmt.Println("      Read a single account's balance directly from a participant node.")
}

func transfer() {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	coord := fs.String("coord", "127.0.0.1:5000", "Coordinator address")
	fromNode := fs.String("from-node", "", "Label of the node holding the source account")
	fromAccount := fs.String("from-account", "", "Source account id")
	toNode := fs.String("to-node", "", "Label of the node holding the destination account")
	toAccount := fs.String("to-account", "", "Destination account id")
	amount := fs.Int64("amount", 0, "Amount to transfer")
	timeout := fs.Duration("timeout", 5*time.Second, "Round-trip timeout")
	fs.Parse(os.Args[2:])

	if *fromNode == "" || *fromAccount == "" || *toNode == "" || *toAccount == "" {
		log.Fatal("--from-node, --from-account, --to-node and --to-account are all required")
	}

	client := transport.NewClient(*timeout)
	reply, err := client.Transfer(*coord, *fromNode, *fromAccount, *toNode, *toAccount, *amount)
	if err != nil {
		log.Fatalf("transfer request failed: %v", err)
	}

	switch reply.Type {
	case wire.TypeTransferResult:
		if reply.Success {
			fmt.Println("transaction committed")
		} else {
			fmt.Println("transaction aborted")
			os.Exit(1)
		}
	case wire.TypeError:
		log.Fatalf("coordinator error: %s", reply.Error)
	default:
		log.Fatalf("unexpected reply type %s", reply.Type)
	}
}

func read() {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	node := fs.String("node", "", "Participant node address")
	account := fs.String("account", "", "Account id to read")
	timeout := fs.Duration("timeout", 5*time.Second, "Round-trip timeout")
	fs.Parse(os.Args[2:])

	if *node == "" || *account == "" {
		log.Fatal("--node and --account are required")
	}

	client := transport.NewClient(*timeout)
	reply, err := client.Read(*node, *account)
	if err != nil {
		log.Fatalf("read request failed: %v", err)
	}

	if reply.Type != wire.TypeReadResult {
		log.Fatalf("unexpected reply type %s", reply.Type)
	}
	fmt.Printf("%s: %d\n", reply.AccountID, reply.Balance)
}
