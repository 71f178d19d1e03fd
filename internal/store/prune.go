package store

import "time"

// PruneStale implements the pruneContextsMinutes background sweep (an Open
// Question in the source material, resolved in SPEC_FULL §6 as a separate
// sweep, never invoked from ApplyDelta). A vessel context that has received
// no delta within maxAge has every non-primary per-source value entry
// dropped from its leaves. The primary entry and the sources index are
// never touched, preserving invariants 3 and 4.
func (s *Store) PruneStale(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for urn, root := range s.vessels {
		last, ok := s.lastDelta[urn]
		if ok && now.Sub(last) < maxAge {
			continue
		}
		var leaves []leafAt
		collectLeaves(root, nil, &leaves)
		for _, la := range leaves {
			removed += pruneNonPrimary(la.leaf)
		}
	}
	return removed
}

func pruneNonPrimary(l *Leaf) int {
	removed := 0
	for ref := range l.Values {
		if ref == l.Primary {
			continue
		}
		delete(l.Values, ref)
		removed++
	}
	return removed
}
