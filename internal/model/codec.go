package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/signalk/signalk-server-go/internal/skerr"
)

// ClientMessageKind tags which variant DecodeClientMessage produced.
type ClientMessageKind int

const (
	MsgSubscribe ClientMessageKind = iota
	MsgUnsubscribe
	MsgPut
	MsgDelta
	MsgUnknown
)

// ClientMessage is the decoded form of any frame a session may receive.
type ClientMessage struct {
	Kind        ClientMessageKind
	Context     string
	Subscribe   []SubscribeItem
	Unsubscribe []UnsubscribeItem
	Put         *PutRequest
	RequestID   string
	Delta       *Delta
}

type rawClientMessage struct {
	Context     *string           `json:"context"`
	Subscribe   []SubscribeItem   `json:"subscribe"`
	Unsubscribe []UnsubscribeItem `json:"unsubscribe"`
	Put         *PutRequest       `json:"put"`
	RequestID   *string           `json:"requestId"`
	Updates     []Update          `json:"updates"`
}

// DecodeClientMessage parses one inbound frame. A JSON syntax error, input
// that is not a JSON object, or a known field of the wrong type is reported
// as a *skerr.Error of KindDecode; the session stays open and the caller is
// expected to surface it as an ErrorMessage. A JSON object that carries none
// of the known fields decodes to MsgUnknown with no error — it is simply
// ignored.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var raw rawClientMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, skerr.Newf(skerr.KindDecode, "malformed json: %v", err)
	}

	ctx := ""
	if raw.Context != nil {
		ctx = *raw.Context
	}
	reqID := ""
	if raw.RequestID != nil {
		reqID = *raw.RequestID
	}

	switch {
	case raw.Put != nil:
		return &ClientMessage{Kind: MsgPut, Context: ctx, Put: raw.Put, RequestID: reqID}, nil
	case raw.Subscribe != nil:
		return &ClientMessage{Kind: MsgSubscribe, Context: ctx, Subscribe: raw.Subscribe}, nil
	case raw.Unsubscribe != nil:
		return &ClientMessage{Kind: MsgUnsubscribe, Context: ctx, Unsubscribe: raw.Unsubscribe}, nil
	case raw.Updates != nil:
		return &ClientMessage{Kind: MsgDelta, Context: ctx, Delta: &Delta{Context: ctx, Updates: raw.Updates}}, nil
	default:
		return &ClientMessage{Kind: MsgUnknown}, nil
	}
}

// EncodeServerMessage marshals any of the server message types (Hello,
// Delta, PutResponseMessage, ServerEventMessage, ErrorMessage) to its wire
// form.
func EncodeServerMessage(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, skerr.Newf(skerr.KindFatal, "encode server message: %v", err)
	}
	return b, nil
}

// EncodePutAbsenceResponse builds the wire form of a PutResponseMessage for
// the no-handler path (§4.5, statusCode 405), appending a human-readable
// statusCodeText field onto the plain struct encoding. sjson.SetBytes is
// used here instead of a struct field because the field is diagnostic-only
// and most PutResponseMessage encodings (a registered handler's own
// success/failure) never carry it.
func EncodePutAbsenceResponse(resp PutResponseMessage) ([]byte, error) {
	b, err := EncodeServerMessage(resp)
	if err != nil {
		return nil, err
	}
	b, err = sjson.SetBytes(b, "statusCodeText", "no handler registered for this path")
	if err != nil {
		return nil, skerr.Newf(skerr.KindFatal, "encode put absence response: %v", err)
	}
	return b, nil
}

// ValidateDelta normalizes and validates d, defaulting context, $source and
// timestamp, and rejecting malformed paths. now is the server wall clock
// used to stamp updates that arrived without a timestamp; defaultSourceRef
// is the connection's fallback $source when neither $source nor source is
// present.
func ValidateDelta(d *Delta, defaultSourceRef string, now time.Time) (*NormalizedDelta, error) {
	ctx := d.Context
	if ctx == "" {
		ctx = string(ContextSelf)
	}
	if ctx == string(ContextWildcard) || ctx == string(ContextAllVessels) {
		return nil, skerr.New(skerr.KindValidation, "delta context must not be a wildcard").WithField("context")
	}

	nd := &NormalizedDelta{Context: ctx, Updates: make([]NormalizedUpdate, 0, len(d.Updates))}
	for _, u := range d.Updates {
		sref := u.SourceRef
		if sref == "" && u.Source != nil {
			sref = deriveSourceRef(u.Source)
		}
		if sref == "" {
			sref = defaultSourceRef
		}
		if sref == "" {
			return nil, skerr.New(skerr.KindValidation, "update has no usable $source").WithField("$source")
		}

		ts := u.Timestamp
		if ts == "" {
			ts = now.UTC().Format("2006-01-02T15:04:05.000Z")
		}

		for _, pv := range u.Values {
			if err := validatePath(pv.Path); err != nil {
				return nil, err
			}
		}

		nd.Updates = append(nd.Updates, NormalizedUpdate{
			SourceRef: sref,
			Timestamp: ts,
			Values:    u.Values,
		})
	}
	return nd, nil
}

// deriveSourceRef builds a $source string from a SourceObj per the rule
// label(+ "." + src|talker) when $source is absent.
func deriveSourceRef(s *SourceObj) string {
	ref := s.Label
	if s.Src != "" {
		ref += "." + s.Src
	} else if s.Talker != "" {
		ref += "." + s.Talker
	}
	return ref
}

func validatePath(path string) error {
	if path == "" {
		return skerr.New(skerr.KindValidation, "empty path").WithField("path")
	}
	if strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return skerr.New(skerr.KindValidation, "path must not start or end with '.'").WithField("path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return skerr.New(skerr.KindValidation, "path contains an empty segment").WithField("path")
		}
	}
	return nil
}
