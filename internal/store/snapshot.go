package store

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/signalk/signalk-server-go/internal/model"
)

// InitialMode selects which leaves SnapshotInitial replays.
type InitialMode int

const (
	InitialNone InitialMode = iota
	InitialSelf
	InitialAll
	InitialSubscribed
)

// SnapshotFull performs a deep, consistent read of the whole tree in the
// wire-level shape described by §3.
func (s *Store) SnapshotFull() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vessels := map[string]json.RawMessage{}
	for urn, root := range s.vessels {
		vessels[urn] = renderNode(root)
	}

	out := map[string]any{
		"version": "1.7.0",
		"self":    s.SelfID(),
		"vessels": vessels,
		"sources": renderSourcesTree(s.sources),
	}
	b, _ := json.Marshal(out)
	return b
}

// renderSourcesTree expands the flat set of dotted SourceRefs into the
// nested {} tree described by §3 invariant 4.
func renderSourcesTree(sources map[string]struct{}) map[string]any {
	root := map[string]any{}
	for ref := range sources {
		cur := root
		segs := strings.Split(ref, ".")
		for i, seg := range segs {
			if i == len(segs)-1 {
				if _, exists := cur[seg]; !exists {
					cur[seg] = map[string]any{}
				}
				continue
			}
			next, ok := cur[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[seg] = next
			}
			cur = next
		}
	}
	return root
}

type leafAt struct {
	path string
	leaf *Leaf
}

func collectLeaves(n *Node, prefix []string, out *[]leafAt) {
	if n.Leaf != nil {
		*out = append(*out, leafAt{path: strings.Join(prefix, "."), leaf: n.Leaf})
		return
	}
	for k, child := range n.Interior {
		collectLeaves(child, append(prefix, k), out)
	}
}

// SnapshotInitial replays the current primary value of every selected leaf
// as a sequence of synthetic Deltas, used to satisfy sendCachedValues.
// matches, when non-nil, additionally filters by (context, path) and is
// only consulted for InitialSubscribed.
func (s *Store) SnapshotInitial(mode InitialMode, matches func(context, path string) bool) []*model.Delta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var urns []string
	switch mode {
	case InitialNone:
		return nil
	case InitialSelf:
		if _, ok := s.vessels[s.selfURN]; ok {
			urns = []string{s.selfURN}
		}
	case InitialAll, InitialSubscribed:
		for urn := range s.vessels {
			urns = append(urns, urn)
		}
		sort.Strings(urns)
	}

	var deltas []*model.Delta
	for _, urn := range urns {
		ctxStr := "vessels." + urn
		var leaves []leafAt
		collectLeaves(s.vessels[urn], nil, &leaves)
		sort.Slice(leaves, func(i, j int) bool { return leaves[i].path < leaves[j].path })

		var updates []model.Update
		for _, la := range leaves {
			if mode == InitialSubscribed && matches != nil && !matches(ctxStr, la.path) {
				continue
			}
			sv := la.leaf.Values[la.leaf.Primary]
			if sv == nil {
				continue
			}
			updates = append(updates, model.Update{
				SourceRef: la.leaf.Primary,
				Timestamp: sv.Timestamp,
				Values:    []model.PathValue{{Path: la.path, Value: sv.Value}},
			})
		}
		if len(updates) == 0 {
			continue
		}
		deltas = append(deltas, &model.Delta{Context: ctxStr, Updates: updates})
	}
	return deltas
}

// CountLeaves returns the number of value-node leaves across every vessel,
// the numberOfAvailablePaths figure reported by SERVERSTATISTICS.
func (s *Store) CountLeaves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var leaves []leafAt
	for _, root := range s.vessels {
		collectLeaves(root, nil, &leaves)
	}
	return len(leaves)
}
