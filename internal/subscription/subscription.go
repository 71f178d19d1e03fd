// Package subscription implements the per-session subscription set:
// context/path pattern matching, policy throttling and initial-mode
// resolution described by the Subscription Manager component.
package subscription

import (
	"encoding/json"
	"time"

	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/pathmatch"
)

// Policy is one of the three subscription emission policies.
type Policy string

const (
	PolicyInstant Policy = "instant"
	PolicyFixed   Policy = "fixed"
	PolicyIdeal   Policy = "ideal"
)

type entry struct {
	ctxPat     *pathmatch.Pattern
	ctxPatStr  string
	pathPat    *pathmatch.Pattern
	pathPatStr string
	policy     Policy
	periodMs   int
	minPeriod  int
}

type pathKey struct {
	context string
	path    string
}

type pathTracker struct {
	lastEmit     time.Time
	hasEmitted   bool
	lastValue    model.Update
	pendingFixed *model.Update
}

// Manager owns one session's subscription set. Not safe for concurrent use
// without external synchronization; the session serializes access to it.
type Manager struct {
	selfID string
	subs   []*entry

	tracker  map[pathKey]*pathTracker
	metaSent map[pathKey]bool

	sendMeta   bool
	metaLookup func(context, path string) (json.RawMessage, bool)
}

// NewManager constructs an empty manager for a session whose resolved self
// context is selfID ("vessels.<urn>").
func NewManager(selfID string) *Manager {
	return &Manager{
		selfID:   selfID,
		tracker:  map[pathKey]*pathTracker{},
		metaSent: map[pathKey]bool{},
	}
}

// SetSendMeta configures whether emitted deltas should carry meta on first
// match (the conservative default chosen for the ambiguous sendMeta
// interaction, see SPEC_FULL §6).
func (m *Manager) SetSendMeta(enabled bool, lookup func(context, path string) (json.RawMessage, bool)) {
	m.sendMeta = enabled
	m.metaLookup = lookup
}

// SetInitial replaces the subscription set with the default implied by the
// streaming transport's "subscribe" query parameter.
func (m *Manager) SetInitial(mode string) {
	m.subs = nil
	switch mode {
	case "all":
		m.subs = append(m.subs, &entry{
			ctxPat: pathmatch.Compile("*"), ctxPatStr: "*",
			pathPat: pathmatch.Compile("*"), pathPatStr: "*",
			policy: PolicyInstant,
		})
	case "none":
		// no subscriptions
	default: // "self"
		m.subs = append(m.subs, &entry{
			ctxPat: pathmatch.CompileContext("vessels.self", m.selfID), ctxPatStr: "vessels.self",
			pathPat: pathmatch.Compile("*"), pathPatStr: "*",
			policy: PolicyInstant,
		})
	}
}
