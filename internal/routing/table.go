// Package routing holds the tree-shaped routing state of a single node:
// which neighbor to hand a frame to for each known descendant.
package routing

import (
	"sensornet/internal/protocol"
	"sensornet/internal/storage"
)

// NoRoute marks an empty slot in the table.
const NoRoute byte = 0xFF

const tableSize = 256

// Table maps descendant node ids to next-hop ids. It is mirrored
// write-through into persistent storage so a relay that restarts keeps
// the routes it had learned. Entries are learned reactively from
// observed traffic and never expire on their own.
type Table struct {
	routes [tableSize]byte
	store  storage.Store
}

// Load builds a Table over store, reading back whatever routes were
// persisted earlier. Cells holding out-of-range values count as empty.
func Load(store storage.Store) *Table {
	t := &Table{store: store}
	for i := 0; i < tableSize; i++ {
		v := store.ReadByte(storage.RoutesOffset + uint16(i))
		if v == protocol.BroadcastAddress {
			v = NoRoute
		}
		t.routes[i] = v
	}
	return t
}

// Record notes that descendant is reachable via nextHop, replacing any
// previous entry.
func (t *Table) Record(descendant, nextHop byte) {
	if descendant == protocol.BroadcastAddress {
		return
	}
	if t.routes[descendant] == nextHop {
		return
	}
	t.routes[descendant] = nextHop
	t.store.WriteByte(storage.RoutesOffset+uint16(descendant), nextHop)
}

// Lookup returns the recorded next hop for destination, if any.
func (t *Table) Lookup(destination byte) (byte, bool) {
	if destination == protocol.BroadcastAddress {
		return NoRoute, false
	}
	hop := t.routes[destination]
	return hop, hop != NoRoute
}

// Forget drops the entry for descendant.
func (t *Table) Forget(descendant byte) {
	if descendant == protocol.BroadcastAddress {
		return
	}
	if t.routes[descendant] == NoRoute {
		return
	}
	t.routes[descendant] = NoRoute
	t.store.WriteByte(storage.RoutesOffset+uint16(descendant), NoRoute)
}
