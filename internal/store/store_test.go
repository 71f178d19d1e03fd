package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/signalk/signalk-server-go/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	arrival, err := NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	return New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)
}

func mustValidate(t *testing.T, d *model.Delta) *model.NormalizedDelta {
	t.Helper()
	nd, err := model.ValidateDelta(d, "test.default", time.Now())
	if err != nil {
		t.Fatalf("ValidateDelta: %v", err)
	}
	return nd
}

func rawValue(v float64) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// S2: apply a single-source delta, then read it back via GetPath.
func TestApplyDeltaAndGetPath(t *testing.T) {
	s := newTestStore(t)
	d := &model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Timestamp: "2024-01-17T10:30:00.500Z",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: rawValue(3.85)}},
		}},
	}
	if err := s.ApplyDelta(mustValidate(t, d)); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	raw, ok, err := s.GetPath("vessels.self", "navigation.speedOverGround")
	if err != nil || !ok {
		t.Fatalf("GetPath: ok=%v err=%v", ok, err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["value"] != 3.85 || got["$source"] != "nmea0183.GP" {
		t.Fatalf("unexpected leaf: %v", got)
	}
}

// S3: a later-timestamped source remains primary even when a second,
// earlier-timestamped source is applied afterward.
func TestMultiSourcePrimaryElection(t *testing.T) {
	s := newTestStore(t)
	first := &model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Timestamp: "2024-01-17T10:30:00.500Z",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: rawValue(3.85)}},
		}},
	}
	second := &model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "n2k.115",
			Timestamp: "2024-01-17T10:29:59.000Z",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: rawValue(3.82)}},
		}},
	}
	if err := s.ApplyDelta(mustValidate(t, first)); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyDelta(mustValidate(t, second)); err != nil {
		t.Fatal(err)
	}

	raw, ok, err := s.GetPath("vessels.self", "navigation.speedOverGround")
	if err != nil || !ok {
		t.Fatalf("GetPath: ok=%v err=%v", ok, err)
	}
	var got struct {
		Value  float64                    `json:"value"`
		Source string                     `json:"$source"`
		Values map[string]json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Value != 3.85 || got.Source != "nmea0183.GP" {
		t.Fatalf("primary should remain nmea0183.GP/3.85, got %+v", got)
	}
	if len(got.Values) != 2 {
		t.Fatalf("expected both sources preserved, got %d", len(got.Values))
	}
}

// Invariant 3: sources index is monotonic and is never removed by a later
// delta that clears the value.
func TestSourcesIndexMonotonic(t *testing.T) {
	s := newTestStore(t)
	d := &model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Timestamp: "2024-01-17T10:30:00.500Z",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: rawValue(3.85)}},
		}},
	}
	if err := s.ApplyDelta(mustValidate(t, d)); err != nil {
		t.Fatal(err)
	}
	clear := &model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Timestamp: "2024-01-17T10:30:01.000Z",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: json.RawMessage("null")}},
		}},
	}
	if err := s.ApplyDelta(mustValidate(t, clear)); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.sources["nmea0183.GP"]; !ok {
		t.Fatalf("sources index must retain nmea0183.GP after the value was cleared")
	}
	if _, ok, _ := s.GetPath("vessels.self", "navigation.speedOverGround"); ok {
		t.Fatalf("leaf should have been pruned once its last source was cleared")
	}
}

func TestSnapshotInitialSelf(t *testing.T) {
	s := newTestStore(t)
	d := &model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Timestamp: "2024-01-17T10:30:00.500Z",
			Values: []model.PathValue{
				{Path: "navigation.speedOverGround", Value: rawValue(3.85)},
				{Path: "navigation.position.latitude", Value: rawValue(59.0)},
			},
		}},
	}
	if err := s.ApplyDelta(mustValidate(t, d)); err != nil {
		t.Fatal(err)
	}

	deltas := s.SnapshotInitial(InitialSelf, nil)
	if len(deltas) != 1 {
		t.Fatalf("expected one delta for self, got %d", len(deltas))
	}
	if len(deltas[0].Updates) != 2 {
		t.Fatalf("expected both leaves replayed, got %d", len(deltas[0].Updates))
	}
}
