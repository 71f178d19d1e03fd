package ws

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalk/signalk-server-go/internal/hub"
	"github.com/signalk/signalk-server-go/internal/logs"
	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/session"
	"github.com/signalk/signalk-server-go/internal/store"
)

func TestMain(m *testing.M) {
	logs.Init()
	os.Exit(m.Run())
}

func TestStreamingSessionReceivesHelloAndDelta(t *testing.T) {
	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	st := store.New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)
	h := hub.New(st, nil)
	defer h.Shutdown(time.Second)

	putter := session.NewPutRouter(st.SelfID())
	handler := New(st, h, putter, "signalk-server-go")

	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?subscribe=self&sendCachedValues=false"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello model.HelloMessage
	if err := json.Unmarshal(raw, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.Self == "" || hello.Version != "1.7.0" {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	val, _ := json.Marshal(42.0)
	h.Submit(&model.Delta{
		Context: "vessels.self",
		Updates: []model.Update{{
			SourceRef: "nmea0183.GP",
			Values:    []model.PathValue{{Path: "navigation.speedOverGround", Value: val}},
		}},
	}, "test.default")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read delta: %v", err)
	}
	var d model.Delta
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal delta: %v", err)
	}
	if len(d.Updates) != 1 || len(d.Updates[0].Values) != 1 {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

// S6: serverevents=all must enable the ServerEvents substate and its
// six-event bootstrap sequence, right after Hello.
func TestServerEventsAllEnablesBootstrapSequence(t *testing.T) {
	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	st := store.New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)
	h := hub.New(st, nil)
	defer h.Shutdown(time.Second)

	putter := session.NewPutRouter(st.SelfID())
	handler := New(st, h, putter, "signalk-server-go")

	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?subscribe=none&sendCachedValues=false&serverevents=all"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read hello: %v", err)
	}

	wantOrder := []model.ServerEventTag{
		model.EventVesselInfo,
		model.EventProviderStatus,
		model.EventServerStatistics,
		model.EventDebugSettings,
		model.EventReceiveLoginState,
		model.EventSourcePriorities,
	}
	for i, want := range wantOrder {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read bootstrap event %d: %v", i, err)
		}
		var evt model.ServerEventMessage
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("unmarshal bootstrap event %d: %v", i, err)
		}
		if evt.Type != want {
			t.Fatalf("bootstrap event %d: got %q, want %q", i, evt.Type, want)
		}
	}
}
