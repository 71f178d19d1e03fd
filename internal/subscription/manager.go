package subscription

import (
	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/pathmatch"
)

// Subscribe merges items into the subscription set under contextPattern.
// Subscribing twice to the same (context, path) pair replaces the earlier
// entry's settings rather than duplicating it, satisfying the idempotence
// property. It returns non-fatal warnings for the two documented defaulting
// cases.
func (m *Manager) Subscribe(contextPattern string, items []model.SubscribeItem) []string {
	var warnings []string
	ctxPat := pathmatch.CompileContext(contextPattern, m.selfID)

	for _, it := range items {
		policy := PolicyInstant
		period := 0
		minPeriod := 0

		if it.Period != nil {
			period = *it.Period
		}
		if it.MinPeriod != nil {
			minPeriod = *it.MinPeriod
		}

		switch {
		case it.Policy != nil:
			policy = Policy(*it.Policy)
		case minPeriod > 0:
			policy = PolicyInstant
			warnings = append(warnings, "minPeriod implies policy=instant for path "+it.Path)
		case period > 0:
			policy = PolicyFixed
			warnings = append(warnings, "period without policy defaults to policy=fixed for path "+it.Path)
		}

		newEntry := &entry{
			ctxPat: ctxPat, ctxPatStr: contextPattern,
			pathPat: pathmatch.Compile(it.Path), pathPatStr: it.Path,
			policy: policy, periodMs: period, minPeriod: minPeriod,
		}

		replaced := false
		for i, e := range m.subs {
			if e.ctxPatStr == contextPattern && e.pathPatStr == it.Path {
				m.subs[i] = newEntry
				replaced = true
				break
			}
		}
		if !replaced {
			m.subs = append(m.subs, newEntry)
		}
	}
	return warnings
}

// Unsubscribe removes subscriptions matching each (context, path) pair.
// The pair ("*", "*") clears the entire set.
func (m *Manager) Unsubscribe(contextPattern string, items []model.UnsubscribeItem) {
	for _, it := range items {
		if contextPattern == "*" && it.Path == "*" {
			m.subs = nil
			m.tracker = map[pathKey]*pathTracker{}
			m.metaSent = map[pathKey]bool{}
			return
		}
	}
	for _, it := range items {
		kept := m.subs[:0]
		for _, e := range m.subs {
			if e.ctxPatStr == contextPattern && e.pathPatStr == it.Path {
				continue
			}
			kept = append(kept, e)
		}
		m.subs = kept
	}
}
