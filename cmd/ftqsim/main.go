// Package main provides the entry point for ftqsim.
// ftqsim is a cycle-level fetch-target-queue frontend simulator running
// a seeded synthetic workload.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/ftqsim/timing/frontend"
)

var (
	cycles     = flag.Uint64("cycles", 100000, "Number of cycles to simulate")
	configPath = flag.String("config", "", "Path to frontend configuration JSON file")
	seed       = flag.Int64("seed", 0, "Workload seed (overrides the config when nonzero)")
	dumpConfig = flag.String("dump-config", "", "Write the effective configuration to a JSON file and exit")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	config := frontend.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = frontend.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *seed != 0 {
		config.Seed = *seed
	}

	if *dumpConfig != "" {
		if err := config.SaveConfig(*dumpConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	driver, err := frontend.NewDriver(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building frontend: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Queue: depth %d, width %d, %d branch slots\n",
			config.Queue.Depth, config.Queue.Width, config.Queue.BranchSlots)
		fmt.Printf("Workload: %d blocks, seed %d\n", config.NumBlocks, config.Seed)
	}

	driver.Run(*cycles)
	report(driver.Stats())
}

// report prints the end-of-run statistics.
func report(stats frontend.Statistics) {
	q := stats.Queue

	fmt.Printf("\n")
	fmt.Printf("Cycles: %d\n", q.Cycles)
	fmt.Printf("Instructions retired: %d\n", stats.Retire.Instructions)
	fmt.Printf("Blocks committed: %d\n", q.Commits)
	fmt.Printf("\n")
	fmt.Printf("Queue:\n")
	fmt.Printf("  Allocations:       %d\n", q.Allocations)
	fmt.Printf("  Predictor stalls:  %d\n", q.PredictorStalls)
	fmt.Printf("  Fetch requests:    %d\n", q.FetchRequests)
	fmt.Printf("  Prefetch requests: %d\n", q.PrefetchRequests)
	fmt.Printf("  False hits:        %d (%.2f%%)\n", q.FalseHits, q.FalseHitRate())
	fmt.Printf("\n")
	fmt.Printf("Redirects:\n")
	fmt.Printf("  Backend:    %d\n", q.BackendRedirects)
	fmt.Printf("  Predecode:  %d\n", q.PredecodeRedirects)
	fmt.Printf("  Suppressed: %d\n", q.SuppressedRedirects)
	fmt.Printf("  Per 1K cycles: %.2f\n", q.RedirectRate())
	fmt.Printf("\n")
	fmt.Printf("Predictor:\n")
	fmt.Printf("  FTB hit rate: %.1f%% (%d/%d)\n",
		stats.Predictor.FTBHitRate(),
		stats.Predictor.FTBHits,
		stats.Predictor.FTBHits+stats.Predictor.FTBMisses)
	fmt.Printf("  Updates:      %d\n", stats.Predictor.Updates)
	fmt.Printf("  Entry paths:  init %d, new-branch %d, retarget %d, bias %d, full %d, unchanged %d\n",
		q.FTBInit, q.FTBNewBranch, q.FTBJalrRetarget,
		q.FTBBiasChange, q.FTBFull, q.FTBUnchanged)
	fmt.Printf("\n")
	fmt.Printf("Instruction cache:\n")
	fmt.Printf("  Hit rate:        %.1f%% (%d/%d)\n",
		stats.Cache.HitRate(), stats.Cache.Hits, stats.Cache.Fetches)
	fmt.Printf("  Prefetched hits: %d\n", stats.Cache.PrefetchedHits)
	fmt.Printf("  Evictions:       %d\n", stats.Cache.Evictions)
}
