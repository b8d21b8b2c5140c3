// Package main provides the entry point for ftqsim.
// ftqsim is a cycle-level fetch-target-queue frontend simulator built on
// Akita cache components.
//
// For the full CLI, use: go run ./cmd/ftqsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("ftqsim - Fetch Target Queue Frontend Simulator")
	fmt.Println("")
	fmt.Println("Usage: ftqsim [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -cycles    Number of cycles to simulate")
	fmt.Println("  -config    Path to frontend configuration JSON file")
	fmt.Println("  -seed      Workload seed")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/ftqsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/ftqsim' instead.")
	}
}
