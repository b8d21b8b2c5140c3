// Package ftq provides the fetch target queue model for frontend timing
// simulation. The queue sits between the staged branch predictor, the
// fetch/predecode unit, and the retirement stage, tracking speculative
// fetch blocks from allocation to commit.
package ftq

// Ptr is a cursor into the circular queue. The flag flips on every
// wraparound so that two pointers a full queue apart compare as "full"
// rather than "equal".
type Ptr struct {
	// Flag is the wraparound parity bit.
	Flag bool
	// Index is the slot index, always < depth.
	Index uint32
}

// Inc returns the pointer advanced by one slot, flipping the flag on
// wraparound.
func (p Ptr) Inc(depth uint32) Ptr {
	if p.Index+1 == depth {
		return Ptr{Flag: !p.Flag, Index: 0}
	}
	return Ptr{Flag: p.Flag, Index: p.Index + 1}
}

// Add returns the pointer advanced by n slots.
func (p Ptr) Add(n, depth uint32) Ptr {
	idx := p.Index + n%(2*depth)
	flag := p.Flag
	for idx >= depth {
		idx -= depth
		flag = !flag
	}
	return Ptr{Flag: flag, Index: idx}
}

// Distance returns how far a is ahead of b in slots. The result is in
// (-depth, depth]: a producer exactly depth ahead of its consumer yields
// depth (queue full), a pointer behind yields a negative distance.
func Distance(a, b Ptr, depth uint32) int {
	av := int(a.Index)
	bv := int(b.Index)
	if a.Flag {
		av += int(depth)
	}
	if b.Flag {
		bv += int(depth)
	}
	d := av - bv
	if d > int(depth) {
		d -= 2 * int(depth)
	}
	if d <= -int(depth) {
		d += 2 * int(depth)
	}
	return d
}

// Before reports whether p is strictly behind o.
func (p Ptr) Before(o Ptr, depth uint32) bool {
	return Distance(p, o, depth) < 0
}

// After reports whether p is strictly ahead of o.
func (p Ptr) After(o Ptr, depth uint32) bool {
	return Distance(p, o, depth) > 0
}

// Full reports whether the producer cursor has filled the queue against
// the consumer cursor.
func Full(producer, consumer Ptr, depth uint32) bool {
	return Distance(producer, consumer, depth) == int(depth)
}
