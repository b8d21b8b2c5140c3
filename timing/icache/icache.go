// Package icache models the L1 instruction cache serving the frontend's
// fetch and prefetch streams, using Akita cache components.
package icache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds instruction-cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int
	// Associativity (number of ways)
	Associativity int
	// LineSize in bytes
	LineSize int
	// HitLatency in cycles
	HitLatency uint64
	// MissLatency in cycles (includes the fill from the next level)
	MissLatency uint64
}

// DefaultConfig returns the default L1 instruction-cache configuration:
// 192KB, 6-way, 64B lines.
func DefaultConfig() Config {
	return Config{
		Size:          192 * 1024,
		Associativity: 6,
		LineSize:      64,
		HitLatency:    1,
		MissLatency:   12,
	}
}

// AccessResult contains the result of one cache access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Line is the full cache line containing the requested address. Nil
	// for prefetch accesses, which fill without returning data.
	Line []byte
	// Evicted is true if a valid line was displaced by the fill.
	Evicted bool
	// EvictedAddr is the address of the displaced line.
	EvictedAddr uint64
}

// LineSource is the next level of the hierarchy the cache fills from.
// Instruction lines are never written back, so the source is read-only.
type LineSource interface {
	ReadLine(addr uint64, size int) []byte
}

// Cache is an L1 instruction cache. It serves whole lines, fills on miss,
// and accepts prefetch fills that warm lines without returning data.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Line storage - indexed by (setID * associativity + wayID)
	lineStore [][]byte

	// prefetched marks lines filled by a prefetch that no demand fetch
	// has touched yet, same indexing as lineStore.
	prefetched []bool

	stats  Statistics
	source LineSource
}

// Statistics holds instruction-cache performance counters.
type Statistics struct {
	Fetches    uint64
	Prefetches uint64
	Hits       uint64
	Misses     uint64
	// PrefetchedHits counts fetch hits on lines a prefetch filled.
	PrefetchedHits uint64
	Evictions      uint64
}

// HitRate returns fetch hits as a percentage of fetches.
func (s Statistics) HitRate() float64 {
	if s.Fetches == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Fetches) * 100
}

// New creates an instruction cache with the given configuration, filling
// from source.
func New(config Config, source LineSource) *Cache {
	numSets := config.Size / (config.Associativity * config.LineSize)
	totalLines := numSets * config.Associativity

	lineStore := make([][]byte, totalLines)
	for i := range lineStore {
		lineStore[i] = make([]byte, config.LineSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.LineSize,
			akitacache.NewLRUVictimFinder(),
		),
		lineStore:  lineStore,
		prefetched: make([]bool, totalLines),
		source:     source,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns the performance counters.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears the performance counters.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// lineIndex computes the index into lineStore for a directory block.
func (c *Cache) lineIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) lineAddr(addr uint64) uint64 {
	return (addr / uint64(c.config.LineSize)) * uint64(c.config.LineSize)
}

// FetchLine reads the cache line containing addr for the fetch stream.
func (c *Cache) FetchLine(addr uint64) AccessResult {
	c.stats.Fetches++

	lineAddr := c.lineAddr(addr)
	block := c.directory.Lookup(0, lineAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		if idx := c.lineIndex(block); c.prefetched[idx] {
			c.stats.PrefetchedHits++
			c.prefetched[idx] = false
		}
		c.directory.Visit(block)

		return AccessResult{
			Hit:     true,
			Latency: c.config.HitLatency,
			Line:    c.lineStore[c.lineIndex(block)],
		}
	}

	c.stats.Misses++
	return c.fill(lineAddr, false)
}

// Prefetch warms the line containing addr without returning data. A line
// already resident is left alone and its LRU state untouched, so
// prefetches never disturb the demand stream's recency order.
func (c *Cache) Prefetch(addr uint64) AccessResult {
	c.stats.Prefetches++

	lineAddr := c.lineAddr(addr)
	block := c.directory.Lookup(0, lineAddr)

	if block != nil && block.IsValid {
		return AccessResult{Hit: true, Latency: 0}
	}

	return c.fill(lineAddr, true)
}

// fill loads a line from the source into a victim way.
func (c *Cache) fill(lineAddr uint64, prefetch bool) AccessResult {
	result := AccessResult{
		Hit:     false,
		Latency: c.config.MissLatency,
	}
	if prefetch {
		// Prefetch latency is hidden from the requester.
		result.Latency = 0
	}

	victim := c.directory.FindVictim(lineAddr)
	if victim == nil {
		return result
	}

	victimLine := c.lineStore[c.lineIndex(victim)]

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag
	}

	if c.source != nil {
		copy(victimLine, c.source.ReadLine(lineAddr, c.config.LineSize))
	} else {
		for i := range victimLine {
			victimLine[i] = 0
		}
	}

	victim.Tag = lineAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.prefetched[c.lineIndex(victim)] = prefetch
	if !prefetch {
		result.Line = victimLine
	}

	c.directory.Visit(victim)
	return result
}

// Contains reports whether the line holding addr is resident.
func (c *Cache) Contains(addr uint64) bool {
	block := c.directory.Lookup(0, c.lineAddr(addr))
	return block != nil && block.IsValid
}

// Invalidate drops the line holding addr, if resident.
func (c *Cache) Invalidate(addr uint64) {
	block := c.directory.Lookup(0, c.lineAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
		c.prefetched[c.lineIndex(block)] = false
	}
}

// Reset invalidates every line and clears the counters. Instruction lines
// are never dirty, so no writeback is needed.
func (c *Cache) Reset() {
	c.directory.Reset()
	for i := range c.prefetched {
		c.prefetched[i] = false
	}
	c.stats = Statistics{}
}
