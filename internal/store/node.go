package store

import (
	"encoding/json"
	"time"
)

// Node is a tagged variant: exactly one of Interior or Leaf is non-nil,
// enforcing invariant §3.2 that a tree position is never both an interior
// map and a value node.
type Node struct {
	Interior map[string]*Node
	Leaf     *Leaf
}

func newInterior() *Node {
	return &Node{Interior: map[string]*Node{}}
}

// Leaf is a value node: the latest primary value plus the full per-source
// history backing it.
type Leaf struct {
	Meta    json.RawMessage
	Values  map[string]*SourceValue
	Primary string
}

// SourceValue is one source's contribution to a Leaf.
type SourceValue struct {
	Value     json.RawMessage
	Timestamp string
	Arrival   uint64
}

// electPrimary re-derives Primary as the entry with the latest timestamp,
// ties broken by the greater arrival number (last writer wins).
func (l *Leaf) electPrimary() {
	var bestRef string
	var bestTime time.Time
	var bestArrival uint64
	first := true
	for ref, sv := range l.Values {
		t, _ := time.Parse(time.RFC3339Nano, sv.Timestamp)
		better := first || t.After(bestTime) || (t.Equal(bestTime) && sv.Arrival > bestArrival)
		if better {
			bestRef, bestTime, bestArrival = ref, t, sv.Arrival
			first = false
		}
	}
	l.Primary = bestRef
}
