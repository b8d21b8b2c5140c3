// Package frontend wires the fetch target queue into a closed loop: a
// staged block predictor feeding it, an instruction-cache-backed fetch
// unit consuming it, and a ground-truth retire unit confirming and
// redirecting it.
package frontend

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/ftqsim/timing/ftq"
	"github.com/sarchlab/ftqsim/timing/icache"
)

// Config holds the driver configuration.
type Config struct {
	// Queue is the fetch target queue configuration.
	Queue ftq.Config `json:"queue"`
	// Predictor is the staged predictor configuration.
	Predictor PredictorConfig `json:"predictor"`
	// Cache is the instruction-cache configuration.
	Cache icache.Config `json:"cache"`

	// Seed drives the synthetic workload generation and outcomes.
	Seed int64 `json:"seed"`
	// NumBlocks is the number of fetch blocks in the synthetic program.
	NumBlocks int `json:"num_blocks"`
	// FetchCapacity is how many fetches may be in flight at once.
	FetchCapacity int `json:"fetch_capacity"`
	// RetireLatency is the cycle count between predecode and
	// retirement.
	RetireLatency int `json:"retire_latency"`
}

// DefaultConfig returns the default driver configuration.
func DefaultConfig() Config {
	return Config{
		Queue:         ftq.DefaultConfig(),
		Predictor:     DefaultPredictorConfig(),
		Cache:         icache.DefaultConfig(),
		Seed:          1,
		NumBlocks:     64,
		FetchCapacity: 4,
		RetireLatency: 8,
	}
}

// LoadConfig loads a Config from a JSON file. Missing fields keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read frontend config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse frontend config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize frontend config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write frontend config file: %w", err)
	}

	return nil
}

// Statistics aggregates the counters of every component in the loop.
type Statistics struct {
	Queue     ftq.Statistics
	Predictor PredictorStats
	Cache     icache.Statistics
	Fetch     FetchStats
	Retire    RetireStats
}

// Driver owns the closed simulation loop.
type Driver struct {
	config Config

	queue     *ftq.FetchTargetQueue
	predictor *StagedPredictor
	cache     *icache.Cache
	fetch     *FetchUnit
	retire    *RetireUnit

	image   *icache.Image
	program *Program

	// Carried from the previous cycle's queue output.
	lastAccepted bool
	lastCommit   ftq.Ptr
	haveCommit   bool
}

// NewDriver builds the full loop from the configuration.
func NewDriver(config Config) (*Driver, error) {
	queue, err := ftq.New(config.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to build queue: %w", err)
	}

	image := icache.NewImage()
	program := GenerateProgram(
		image, config.Seed, config.NumBlocks, config.Queue.Width)

	cache := icache.New(config.Cache, image)

	d := &Driver{
		config:    config,
		queue:     queue,
		predictor: NewStagedPredictor(config.Predictor, config.Queue.Width, program.Base),
		cache:     cache,
		fetch:     NewFetchUnit(cache, config.Queue.Width, config.FetchCapacity),
		retire:    NewRetireUnit(program, image, config.RetireLatency),
		image:     image,
		program:   program,
	}
	return d, nil
}

// Queue returns the fetch target queue, for harnesses.
func (d *Driver) Queue() *ftq.FetchTargetQueue {
	return d.queue
}

// Program returns the synthetic workload's ground truth.
func (d *Driver) Program() *Program {
	return d.program
}

// Stats returns the aggregated counters.
func (d *Driver) Stats() Statistics {
	return Statistics{
		Queue:     d.queue.Stats(),
		Predictor: d.predictor.Stats(),
		Cache:     d.cache.Stats(),
		Fetch:     d.fetch.Stats(),
		Retire:    d.retire.Stats(),
	}
}

// Tick advances the whole loop by one cycle.
func (d *Driver) Tick() {
	in := ftq.CycleInput{}

	in.Predictor = d.predictor.Tick(d.lastAccepted, d.queue.AllocPtr())

	wb, done := d.fetch.Tick()
	in.Writeback = wb
	if done != nil {
		d.retire.Feed(done)
	}

	in.Commits, in.Redirect = d.retire.Tick()
	in.RedirectHints = d.retire.Hint()

	in.FetchReady = d.fetch.CanAccept()
	in.PrefetchReady = true

	out := d.queue.Tick(in)

	d.lastAccepted = out.PredictorAccepted
	if out.ToFetch != nil && in.FetchReady {
		d.fetch.Accept(out.ToFetch)
	}
	if out.ToPrefetch != nil {
		d.cache.Prefetch(out.ToPrefetch.StartAddr)
		d.cache.Prefetch(out.ToPrefetch.Block.NextLineAddr)
	}
	if out.ToPredictor != nil {
		d.predictor.Update(out.ToPredictor)
	}
	if out.Redirect != nil {
		d.predictor.Redirect(out.Redirect)
		d.fetch.Flush()
	}

	d.checkInvariants()
}

// Run advances the loop for the given number of cycles.
func (d *Driver) Run(cycles uint64) {
	for i := uint64(0); i < cycles; i++ {
		d.Tick()
	}
}

// checkInvariants enforces driver-level invariants on top of the
// queue's own.
func (d *Driver) checkInvariants() {
	comm := d.queue.CommitPtr()
	if d.haveCommit && comm != d.lastCommit {
		depth := d.config.Queue.Depth
		if comm.Before(d.lastCommit, depth) {
			panic("frontend: commit cursor moved backwards")
		}
		if ftq.Distance(comm, d.lastCommit, depth) != 1 {
			panic("frontend: commit cursor skipped a slot")
		}
	}
	d.lastCommit = comm
	d.haveCommit = true
}
