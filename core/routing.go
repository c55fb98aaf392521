package core

// routing.go – predecessor, successor and finger table.
//
// The table is shared mutable state: peer handlers and the API path read
// it constantly, while writes only happen on stabilization ticks and on
// PREDECESSOR NOTIFY. One reader/writer lock over the whole structure is
// deliberate; contention is noise next to network round trips.

import (
	"sync"
)

// RoutingTable holds this node's view of its ring neighborhood.
type RoutingTable struct {
	mu   sync.RWMutex
	self Peer

	predecessor *Peer // nil until a notify sets it; join clears it
	successor   Peer  // always set, initially self
	fingers     []Peer
}

// NewRoutingTable creates a table for a fresh node: the node is its own
// successor, every finger points at itself and the predecessor is unset.
func NewRoutingTable(self Peer, fingerCount int) *RoutingTable {
	fingers := make([]Peer, fingerCount)
	for i := range fingers {
		fingers[i] = self
	}
	return &RoutingTable{self: self, successor: self, fingers: fingers}
}

// Self returns this node's own peer identity.
func (rt *RoutingTable) Self() Peer {
	return rt.self
}

// Successor returns the current successor.
func (rt *RoutingTable) Successor() Peer {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.successor
}

// SetSuccessor replaces the successor.
func (rt *RoutingTable) SetSuccessor(p Peer) {
	rt.mu.Lock()
	rt.successor = p
	rt.mu.Unlock()
}

// Predecessor returns the predecessor and whether one is known.
func (rt *RoutingTable) Predecessor() (Peer, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.predecessor == nil {
		return Peer{}, false
	}
	return *rt.predecessor, true
}

// SetPredecessor installs p unconditionally. Callers outside of a join
// should prefer MaybeUpdatePredecessor.
func (rt *RoutingTable) SetPredecessor(p Peer) {
	rt.mu.Lock()
	rt.predecessor = &p
	rt.mu.Unlock()
}

// ClearPredecessor forgets the predecessor, returning the node to the
// bootstrap state in which it claims the entire circle.
func (rt *RoutingTable) ClearPredecessor() {
	rt.mu.Lock()
	rt.predecessor = nil
	rt.mu.Unlock()
}

// NumFingers returns the configured finger table size.
func (rt *RoutingTable) NumFingers() int {
	return len(rt.fingers)
}

// Finger returns entry i of the finger table.
func (rt *RoutingTable) Finger(i int) Peer {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.fingers[i]
}

// SetFinger replaces entry i of the finger table.
func (rt *RoutingTable) SetFinger(i int, p Peer) {
	rt.mu.Lock()
	rt.fingers[i] = p
	rt.mu.Unlock()
}

// ClosestPreceding returns, among the successor and all fingers, the peer
// whose identifier lies in (self, id) and is nearest to id. When no entry
// qualifies the node itself is returned.
func (rt *RoutingTable) ClosestPreceding(id Identifier) Peer {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	best := rt.self
	consider := func(c Peer) {
		if !inOpenOpen(c.ID, rt.self.ID, id) {
			return
		}
		if best.Equal(rt.self) || inOpenOpen(best.ID, rt.self.ID, c.ID) {
			best = c
		}
	}
	consider(rt.successor)
	for _, f := range rt.fingers {
		consider(f)
	}
	return best
}

// MaybeUpdatePredecessor adopts candidate as the new predecessor iff its
// identifier lies strictly between the current predecessor and this node,
// or no predecessor is known yet. Candidates equal to the node itself are
// never adopted.
func (rt *RoutingTable) MaybeUpdatePredecessor(candidate Peer) bool {
	if candidate.Equal(rt.self) {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.predecessor == nil || inOpenOpen(candidate.ID, rt.predecessor.ID, rt.self.ID) {
		rt.predecessor = &candidate
		return true
	}
	return false
}

// Responsible reports whether this node owns id: id must lie on the arc
// (predecessor, self]. With no predecessor the node claims every key.
func (rt *RoutingTable) Responsible(id Identifier) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.predecessor == nil {
		return true
	}
	return inOpenClosed(id, rt.predecessor.ID, rt.self.ID)
}

// RoutingSnapshot is a point-in-time copy of the table for inspection.
type RoutingSnapshot struct {
	Self        Peer   `json:"self"`
	Predecessor *Peer  `json:"predecessor,omitempty"`
	Successor   Peer   `json:"successor"`
	Fingers     []Peer `json:"fingers"`
}

// Snapshot copies the whole table under the read lock.
func (rt *RoutingTable) Snapshot() RoutingSnapshot {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	snap := RoutingSnapshot{
		Self:      rt.self,
		Successor: rt.successor,
		Fingers:   append([]Peer(nil), rt.fingers...),
	}
	if rt.predecessor != nil {
		p := *rt.predecessor
		snap.Predecessor = &p
	}
	return snap
}
