package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	st := store.New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)

	val, _ := json.Marshal(3.85)
	nd, err := model.ValidateDelta(&model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: val}},
		}},
	}, "test.default", time.Now())
	if err != nil {
		t.Fatalf("ValidateDelta: %v", err)
	}
	if err := st.ApplyDelta(nd); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	return st
}

func TestAPIRootReturnsFullSnapshot(t *testing.T) {
	st := newTestStore(t)
	h := New(st, "signalk-server-go")

	req := httptest.NewRequest(http.MethodGet, "/signalk/v1/api", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] != "1.7.0" {
		t.Fatalf("expected version 1.7.0, got %v", body["version"])
	}
}

func TestAPIPathReturnsValueNode(t *testing.T) {
	st := newTestStore(t)
	h := New(st, "signalk-server-go")

	req := httptest.NewRequest(http.MethodGet, "/signalk/v1/api/navigation/speedOverGround", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIPathNotFound(t *testing.T) {
	st := newTestStore(t)
	h := New(st, "signalk-server-go")

	req := httptest.NewRequest(http.MethodGet, "/signalk/v1/api/navigation/courseOverGround", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDiscoveryEndpoint(t *testing.T) {
	st := newTestStore(t)
	h := New(st, "signalk-server-go")

	req := httptest.NewRequest(http.MethodGet, "/signalk", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
