package main

import (
	"fmt"
)

func main() {
	fmt.Println("Distributed Ledger - Two-Phase Commit Transactional Account Store")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  Start a participant:  go run ./cmd/participant --addr=127.0.0.1:6001 --label=N1")
	fmt.Println("  Start the coordinator: go run ./cmd/coordinator --addr=127.0.0.1:5000 --nodes=N1:127.0.0.1:6001,N2:127.0.0.1:6002")
	fmt.Println("  Client tool:          go run ./cmd/client <command>")
	fmt.Println("")
	fmt.Println("Client commands:")
	fmt.Println("  transfer --coord=<addr> --from-node=<N> --from-account=<id> --to-node=<N> --to-account=<id> --amount=<n>")
	fmt.Println("  read --node=<addr> --account=<id>")
}
