package subscription

import (
	"time"

	"github.com/signalk/signalk-server-go/internal/model"
)

// OnDelta evaluates an applied delta against the subscription set and
// returns the subset admitted right now under instant/ideal throttling.
// Matching "fixed" subscriptions only buffer the value for the next Tick.
// Rate limiting is evaluated per concrete (context, path), and a delta is
// emitted once even if several overlapping subscriptions admit it.
func (m *Manager) OnDelta(delta *model.NormalizedDelta, now time.Time) *model.Delta {
	if len(m.subs) == 0 {
		return nil
	}

	var out []model.Update
	for _, u := range delta.Updates {
		for _, pv := range u.Values {
			matching := m.matchingSubs(delta.Context, pv.Path)
			if len(matching) == 0 {
				continue
			}

			key := pathKey{context: delta.Context, path: pv.Path}
			tr := m.tracker[key]
			if tr == nil {
				tr = &pathTracker{}
				m.tracker[key] = tr
			}

			single := model.Update{SourceRef: u.SourceRef, Timestamp: u.Timestamp, Values: []model.PathValue{pv}}
			tr.lastValue = single

			admit, minPeriod, hasFixed := classify(matching)
			if hasFixed {
				buffered := single
				tr.pendingFixed = &buffered
			}

			if admit {
				throttled := tr.hasEmitted && minPeriod > 0 && now.Sub(tr.lastEmit) < time.Duration(minPeriod)*time.Millisecond
				if !throttled {
					emitted := m.attachMeta(single, delta.Context, pv.Path)
					out = append(out, emitted)
					tr.lastEmit = now
					tr.hasEmitted = true
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &model.Delta{Context: delta.Context, Updates: out}
}

// classify summarizes the matching subscriptions for one concrete path:
// whether any non-fixed subscription admits an instant emission, the
// minimum applicable minPeriod among them (0 meaning unthrottled), and
// whether any fixed subscription also matches.
func classify(matching []*entry) (admit bool, minPeriodMs int, hasFixed bool) {
	minPeriodMs = -1
	for _, e := range matching {
		if e.policy == PolicyFixed {
			hasFixed = true
			continue
		}
		admit = true
		if e.minPeriod <= 0 {
			minPeriodMs = 0
		} else if minPeriodMs < 0 || e.minPeriod < minPeriodMs {
			minPeriodMs = e.minPeriod
		}
	}
	if minPeriodMs < 0 {
		minPeriodMs = 0
	}
	return admit, minPeriodMs, hasFixed
}

func (m *Manager) matchingSubs(context, path string) []*entry {
	var out []*entry
	for _, e := range m.subs {
		if e.ctxPat.Matches(context) && e.pathPat.Matches(path) {
			out = append(out, e)
		}
	}
	return out
}

func (m *Manager) attachMeta(u model.Update, context, path string) model.Update {
	if !m.sendMeta || m.metaLookup == nil {
		return u
	}
	key := pathKey{context: context, path: path}
	if m.metaSent[key] {
		return u
	}
	meta, ok := m.metaLookup(context, path)
	if !ok {
		return u
	}
	m.metaSent[key] = true
	u.Meta = []model.PathValue{{Path: path, Value: meta}}
	return u
}

// Tick drives fixed-interval coalesced emission and ideal resend-on-silence.
// Callers invoke it periodically (the session ticks its manager at a
// granularity finer than the shortest configured period).
func (m *Manager) Tick(now time.Time) []*model.Delta {
	byContext := map[string][]model.Update{}

	for key, tr := range m.tracker {
		for _, e := range m.subs {
			if !e.ctxPat.Matches(key.context) || !e.pathPat.Matches(key.path) {
				continue
			}
			switch e.policy {
			case PolicyFixed:
				if tr.pendingFixed != nil && (!tr.hasEmitted || now.Sub(tr.lastEmit) >= time.Duration(e.periodMs)*time.Millisecond) {
					byContext[key.context] = append(byContext[key.context], *tr.pendingFixed)
					tr.pendingFixed = nil
					tr.lastEmit = now
					tr.hasEmitted = true
				}
			case PolicyIdeal:
				if e.periodMs > 0 && tr.hasEmitted && now.Sub(tr.lastEmit) >= time.Duration(e.periodMs)*time.Millisecond {
					byContext[key.context] = append(byContext[key.context], tr.lastValue)
					tr.lastEmit = now
				}
			}
		}
	}

	if len(byContext) == 0 {
		return nil
	}
	out := make([]*model.Delta, 0, len(byContext))
	for ctx, updates := range byContext {
		out = append(out, &model.Delta{Context: ctx, Updates: updates})
	}
	return out
}
