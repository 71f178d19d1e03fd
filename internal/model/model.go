// Package model defines the Signal K wire types: Delta, Update, PathValue
// and the client/server message envelopes built on top of them.
package model

import "encoding/json"

// Context identifies the vessel (or wildcard) a Delta applies to, e.g.
// "vessels.self", "vessels.urn:mrn:signalk:uuid:...", "vessels.*", "*".
type Context string

const (
	ContextSelf = Context("vessels.self")
	ContextAllVessels = Context("vessels.*")
	ContextWildcard = Context("*")
)

// SourceObj describes the origin of an Update before it is collapsed into
// a SourceRef.
type SourceObj struct {
	Label    string `json:"label"`
	Type     string `json:"type,omitempty"`
	Src      string `json:"src,omitempty"`
	Pgn      int    `json:"pgn,omitempty"`
	Sentence string `json:"sentence,omitempty"`
	Talker   string `json:"talker,omitempty"`
}

// PathValue is one path->value assignment inside an Update. A nil Value
// clears the path; a Value shaped {"meta": {...}} merges into the leaf's
// meta sub-object without touching the primary value.
type PathValue struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Update is one source's contribution to a Delta.
type Update struct {
	Source    *SourceObj  `json:"source,omitempty"`
	SourceRef string      `json:"$source,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Values    []PathValue `json:"values"`
	// Meta carries per-path meta sub-objects when the session's sendMeta
	// option is enabled; never set on client-sent updates.
	Meta []PathValue `json:"meta,omitempty"`
}

// Delta is the fundamental unit moved through the pipeline.
type Delta struct {
	Context string   `json:"context,omitempty"`
	Updates []Update `json:"updates"`
}

// NormalizedDelta is a Delta that has passed ValidateDelta: Context is
// always set and every Update has a SourceRef and a Timestamp. A timestamp
// supplied by the sender is kept as given; a missing one is filled with the
// server clock in millisecond-precision RFC3339.
type NormalizedDelta struct {
	Context string
	Updates []NormalizedUpdate
}

// NormalizedUpdate is an Update after defaulting.
type NormalizedUpdate struct {
	SourceRef string
	Timestamp string
	Values    []PathValue
}

// ToDelta renders a NormalizedDelta back into the wire shape, used when
// replaying it to subscribers or as a synthetic cached-value delta.
func (nd *NormalizedDelta) ToDelta() *Delta {
	d := &Delta{Context: nd.Context, Updates: make([]Update, len(nd.Updates))}
	for i, u := range nd.Updates {
		d.Updates[i] = Update{SourceRef: u.SourceRef, Timestamp: u.Timestamp, Values: u.Values}
	}
	return d
}

// HelloMessage is the first frame sent by the server on a new streaming
// session.
type HelloMessage struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Self      string   `json:"self"`
	Roles     []string `json:"roles"`
	Timestamp string   `json:"timestamp"`
}

// PutState is the lifecycle state of a Put request.
type PutState string

const (
	PutPending   PutState = "PENDING"
	PutCompleted PutState = "COMPLETED"
	PutFailed    PutState = "FAILED"
)

// PutResponseMessage answers a client Put.
type PutResponseMessage struct {
	RequestID  string   `json:"requestId"`
	State      PutState `json:"state"`
	StatusCode int      `json:"statusCode"`
}

// ErrorMessage reports a non-fatal, session-local error.
type ErrorMessage struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// ServerEventTag names one of the six bootstrap events or the periodic
// statistics/log events of the ServerEvents substate.
type ServerEventTag string

const (
	EventVesselInfo        ServerEventTag = "VESSEL_INFO"
	EventProviderStatus    ServerEventTag = "PROVIDERSTATUS"
	EventServerStatistics  ServerEventTag = "SERVERSTATISTICS"
	EventDebugSettings     ServerEventTag = "DEBUG_SETTINGS"
	EventReceiveLoginState ServerEventTag = "RECEIVE_LOGIN_STATUS"
	EventSourcePriorities  ServerEventTag = "SOURCEPRIORITIES"
	EventLog               ServerEventTag = "LOG"
)

// ServerEventMessage carries one tagged server event.
type ServerEventMessage struct {
	Type ServerEventTag `json:"type"`
	Data any            `json:"data"`
}

// SubscribeItem is one entry of a client Subscribe request.
type SubscribeItem struct {
	Path      string  `json:"path"`
	Period    *int    `json:"period,omitempty"`
	MinPeriod *int    `json:"minPeriod,omitempty"`
	Policy    *string `json:"policy,omitempty"`
	Format    *string `json:"format,omitempty"`
}

// UnsubscribeItem is one entry of a client Unsubscribe request.
type UnsubscribeItem struct {
	Path string `json:"path"`
}

// PutRequest is the inner "put" object of a client Put message.
type PutRequest struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}
