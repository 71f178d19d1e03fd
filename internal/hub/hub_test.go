package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/session"
	"github.com/signalk/signalk-server-go/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *store.Store) {
	t.Helper()
	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	st := store.New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)
	return New(st, nil), st
}

func TestSubmitAppliesAndBroadcasts(t *testing.T) {
	h, st := newTestHub(t)
	defer h.Shutdown(time.Second)

	router := session.NewPutRouter(st.SelfID())
	sess := session.New("s1", st, h, router, "s1.default", session.Options{InitialMode: "self"})
	sess.Open(st.SelfURN())
	h.Join(sess)

	// Drain the hello frame before asserting on the delta.
	<-sess.Outbound()

	val, _ := json.Marshal(3.85)
	h.Submit(&model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: val}},
		}},
	}, "test.default")

	select {
	case raw := <-sess.Outbound():
		var d model.Delta
		if err := json.Unmarshal(raw, &d); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(d.Updates) != 1 || len(d.Updates[0].Values) != 1 {
			t.Fatalf("unexpected broadcast delta: %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for broadcast delta")
	}

	if h.Stats().Applied() != 1 {
		t.Fatalf("expected 1 applied delta, got %d", h.Stats().Applied())
	}

	raw, ok, err := st.GetPath("vessels.self", "navigation.speedOverGround")
	if err != nil || !ok {
		t.Fatalf("expected value to have been applied to the store")
	}
	_ = raw
}

func TestInterceptionChainDrop(t *testing.T) {
	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	st := store.New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)
	h := New(st, []InputHandler{func(d model.Delta) (model.Delta, Action) { return d, ActionDrop }})
	defer h.Shutdown(time.Second)

	h.Submit(&model.Delta{Context: "vessels.self", Updates: []model.Update{{
		SourceRef: "x", Values: []model.PathValue{{Path: "navigation.speedOverGround"}},
	}}}, "d")

	time.Sleep(50 * time.Millisecond)
	if h.Stats().Applied() != 0 {
		t.Fatalf("expected the chain to drop the delta before it was applied")
	}
	if h.Stats().Dropped() != 1 {
		t.Fatalf("expected dropped counter to be 1, got %d", h.Stats().Dropped())
	}
}
