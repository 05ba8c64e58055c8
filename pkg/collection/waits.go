package collection

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// waitGraph records which goroutine waits for which drain loop, so that a commit never waits for a
// drain loop that is itself waiting, directly or through others, for the committing goroutine.
type waitGraph struct {
	mu    sync.Mutex
	edges map[uint64]uint64
}

var waits = &waitGraph{edges: map[uint64]uint64{}}

// add records that waiter waits for holder. It returns false and records nothing if the wait would
// close a cycle.
func (g *waitGraph) add(waiter, holder uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for x, ok := holder, true; ok; x, ok = g.edges[x] {
		if x == waiter {
			return false
		}
	}
	g.edges[waiter] = holder
	return true
}

func (g *waitGraph) remove(waiter uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, waiter)
}

// goroutineID returns the id of the calling goroutine from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}
