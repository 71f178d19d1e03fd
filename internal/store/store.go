// Package store owns the canonical in-memory Signal K tree: one subtree per
// vessel context, multi-source value nodes, and the derived sources index.
// All mutation goes through ApplyDelta on the pipeline worker; readers take
// the read lock or consume a snapshot.
package store

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/skerr"
)

// Store is the canonical tree. The zero value is not usable; construct
// with New.
type Store struct {
	mu sync.RWMutex

	selfURN string // without "vessels." prefix
	vessels map[string]*Node
	sources map[string]struct{} // full dotted SourceRefs ever observed

	arrival   *ArrivalSeq
	lastDelta map[string]time.Time // per-vessel URN, for the prune sweep
}

// New constructs an empty store for the given self URN (without the
// "vessels." prefix).
func New(selfURN string, arrival *ArrivalSeq) *Store {
	return &Store{
		selfURN:   selfURN,
		vessels:   map[string]*Node{},
		sources:   map[string]struct{}{},
		arrival:   arrival,
		lastDelta: map[string]time.Time{},
	}
}

// SelfURN returns the server's own vessel URN without the "vessels." prefix.
func (s *Store) SelfURN() string { return s.selfURN }

// SelfID returns the server's own context, "vessels.<urn>".
func (s *Store) SelfID() string { return "vessels." + s.selfURN }

// resolveContextURN maps a Delta/GetPath context string to a concrete
// vessel URN. Wildcard contexts are rejected — they never address a single
// vessel tree.
func (s *Store) resolveContextURN(ctx string) (string, error) {
	switch {
	case ctx == "" || ctx == "vessels.self":
		return s.selfURN, nil
	case ctx == "*" || ctx == "vessels.*":
		return "", skerr.New(skerr.KindValidation, "wildcard context does not address a single vessel").WithField("context")
	case strings.HasPrefix(ctx, "vessels."):
		return strings.TrimPrefix(ctx, "vessels."), nil
	default:
		return "", skerr.New(skerr.KindValidation, "unrecognized context").WithField("context")
	}
}

// ApplyDelta applies every PathValue of every Update in nd atomically with
// respect to other ApplyDelta calls. Updates within nd apply in slice
// order; the store is never observed half-written by another goroutine.
func (s *Store) ApplyDelta(nd *model.NormalizedDelta) error {
	urn, err := s.resolveContextURN(nd.Context)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vessel, ok := s.vessels[urn]
	if !ok {
		vessel = newInterior()
		s.vessels[urn] = vessel
	}

	for _, u := range nd.Updates {
		s.sources[u.SourceRef] = struct{}{}
		for _, pv := range u.Values {
			if err := s.applyPathValue(vessel, pv.Path, u.SourceRef, u.Timestamp, pv.Value); err != nil {
				return err
			}
		}
	}
	s.lastDelta[urn] = time.Now()
	return nil
}

type frame struct {
	parent *Node
	key    string
}

// applyPathValue walks (creating as needed) the interior nodes down to
// path's leaf, applies the value, and prunes the leaf and any now-empty
// ancestors when the value removed the last source entry.
func (s *Store) applyPathValue(vessel *Node, path, sourceRef, timestamp string, value json.RawMessage) error {
	segs := strings.Split(path, ".")
	stack := make([]frame, 0, len(segs))
	cur := vessel

	for i, seg := range segs {
		isLast := i == len(segs)-1
		if cur.Interior == nil {
			cur.Interior = map[string]*Node{}
		}
		child, ok := cur.Interior[seg]
		if !ok {
			child = &Node{}
			cur.Interior[seg] = child
		} else if !isLast && child.Leaf != nil {
			return skerr.Newf(skerr.KindFatal, "path shape conflict at %q: expected interior node, found value node", path)
		} else if isLast && len(child.Interior) > 0 {
			return skerr.Newf(skerr.KindFatal, "path shape conflict at %q: expected value node, found interior node", path)
		}
		stack = append(stack, frame{cur, seg})
		cur = child
	}

	emptied := applyLeafValue(cur, value, sourceRef, timestamp, s.arrival.Next())
	if !emptied {
		return nil
	}
	for i := len(stack) - 1; i >= 0; i-- {
		f := stack[i]
		child := f.parent.Interior[f.key]
		if child.Leaf == nil && len(child.Interior) == 0 {
			delete(f.parent.Interior, f.key)
		} else {
			break
		}
	}
	return nil
}

// applyLeafValue mutates node's Leaf in place and reports whether the node
// ended up with no data at all (leaf cleared, no children), signalling the
// caller to prune it from its parent.
func applyLeafValue(node *Node, value json.RawMessage, sourceRef, timestamp string, arrival uint64) bool {
	if node.Leaf == nil {
		node.Leaf = &Leaf{Values: map[string]*SourceValue{}}
	}
	leaf := node.Leaf

	if isNullJSON(value) {
		delete(leaf.Values, sourceRef)
		if len(leaf.Values) == 0 {
			node.Leaf = nil
			return true
		}
		if leaf.Primary == sourceRef {
			leaf.electPrimary()
		}
		return false
	}

	if metaRaw, ok := detectMetaUpdate(value); ok {
		leaf.Meta = mergeMetaRaw(leaf.Meta, metaRaw)
		return false
	}

	leaf.Values[sourceRef] = &SourceValue{Value: value, Timestamp: timestamp, Arrival: arrival}
	leaf.electPrimary()
	return false
}

func isNullJSON(v json.RawMessage) bool {
	s := strings.TrimSpace(string(v))
	return s == "" || s == "null"
}

// detectMetaUpdate recognizes the special {"meta": {...}} value shape that
// merges into a leaf's meta sub-object instead of replacing its primary
// value.
func detectMetaUpdate(raw json.RawMessage) (json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	if meta, ok := m["meta"]; ok && len(m) == 1 {
		return meta, true
	}
	return nil, false
}

func mergeMetaRaw(existing, incoming json.RawMessage) json.RawMessage {
	merged := map[string]json.RawMessage{}
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &merged)
	}
	var incomingMap map[string]json.RawMessage
	if err := json.Unmarshal(incoming, &incomingMap); err == nil {
		for k, v := range incomingMap {
			merged[k] = v
		}
	}
	b, _ := json.Marshal(merged)
	return b
}

// GetPath resolves context and walks path, returning the JSON value at that
// position: a rendered value-node object for a leaf, or a nested object for
// an interior node. The second return is false if nothing exists there.
func (s *Store) GetPath(context, path string) (json.RawMessage, bool, error) {
	urn, err := s.resolveContextURN(context)
	if err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	vessel, ok := s.vessels[urn]
	if !ok {
		return nil, false, nil
	}

	cur := vessel
	if path != "" {
		for _, seg := range strings.Split(path, ".") {
			if cur.Interior == nil {
				return nil, false, nil
			}
			child, ok := cur.Interior[seg]
			if !ok {
				return nil, false, nil
			}
			cur = child
		}
	}
	return renderNode(cur), true, nil
}

// GetContext returns the full subtree for a vessel context (supplemental
// REST surface, see SPEC_FULL §5 item 1).
func (s *Store) GetContext(context string) (json.RawMessage, bool, error) {
	return s.GetPath(context, "")
}

func renderNode(n *Node) json.RawMessage {
	if n.Leaf != nil {
		return renderLeaf(n.Leaf)
	}
	out := map[string]json.RawMessage{}
	for k, child := range n.Interior {
		out[k] = renderNode(child)
	}
	b, _ := json.Marshal(out)
	return b
}

func renderLeaf(l *Leaf) json.RawMessage {
	sv := l.Values[l.Primary]
	out := map[string]any{
		"values": renderSourceValues(l.Values),
	}
	if sv != nil {
		out["value"] = sv.Value
		out["$source"] = l.Primary
		out["timestamp"] = sv.Timestamp
	}
	if len(l.Meta) > 0 {
		out["meta"] = l.Meta
	}
	b, _ := json.Marshal(out)
	return b
}

func renderSourceValues(values map[string]*SourceValue) map[string]any {
	out := make(map[string]any, len(values))
	for ref, sv := range values {
		out[ref] = map[string]any{"value": sv.Value, "timestamp": sv.Timestamp}
	}
	return out
}
