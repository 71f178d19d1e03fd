package serverevent

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalk/signalk-server-go/internal/hub"
	"github.com/signalk/signalk-server-go/internal/session"
	"github.com/signalk/signalk-server-go/internal/store"
)

func TestEmitStatisticsUpdatesMetrics(t *testing.T) {
	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	st := store.New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)
	h := hub.New(st, nil)
	defer h.Shutdown(time.Second)

	router := session.NewPutRouter(st.SelfID())
	sess := session.New("s1", st, h, router, "s1.default", session.Options{
		InitialMode: "none", ServerEvents: true,
	})
	sess.Open(st.SelfURN())
	h.Join(sess)
	drain(sess)

	src := New(h, st, "signalk-server-go")
	src.emitStatistics()

	if got := testutil.ToFloat64(src.Metrics().WSClients); got != 1 {
		t.Fatalf("expected wsClients gauge to read 1, got %v", got)
	}

	select {
	case <-sess.Outbound():
	case <-time.After(time.Second):
		t.Fatalf("expected a SERVERSTATISTICS frame to reach the ServerEvents session")
	}
}

func TestEmitStatisticsFeedsDeltaDroppedCounter(t *testing.T) {
	arrival, err := store.NewArrivalSeq(0)
	if err != nil {
		t.Fatalf("NewArrivalSeq: %v", err)
	}
	st := store.New("urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d", arrival)
	h := hub.New(st, nil)
	defer h.Shutdown(time.Second)

	h.Stats().RecordDropped()
	h.Stats().RecordDropped()

	src := New(h, st, "signalk-server-go")
	src.emitStatistics()

	if got := testutil.ToFloat64(src.Metrics().DeltaDropped); got != 2 {
		t.Fatalf("expected delta_dropped_total to read 2, got %v", got)
	}

	h.Stats().RecordDropped()
	src.emitStatistics()

	if got := testutil.ToFloat64(src.Metrics().DeltaDropped); got != 3 {
		t.Fatalf("expected delta_dropped_total to read 3 after one more drop, got %v", got)
	}
}

func drain(sess *session.Session) {
	for {
		select {
		case <-sess.Outbound():
		default:
			return
		}
	}
}
