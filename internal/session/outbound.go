package session

import (
	"sync"
	"time"

	"github.com/signalk/signalk-server-go/internal/logs"
)

// outbound is a session's writer queue. On overflow the newest frame is not
// blocked on: it is dropped and the session is marked lagging. Every later
// frame is still offered to the channel and is dropped only if the channel
// is full at that moment. No coalesced snapshot or replay is sent, so values
// dropped while lagging are lost; a path catches up only with its next
// admitted delta. This never blocks the pipeline worker, matching the
// teacher's queueOut drop-with-log pattern.
type outbound struct {
	ch chan []byte

	mu      sync.Mutex
	lagging bool
}

func newOutbound(capacity int) *outbound {
	return &outbound{ch: make(chan []byte, capacity)}
}

// enqueue attempts a non-blocking send. On a full channel it marks the
// session lagging and drops the frame instead of blocking the caller
// (which, on the hot path, is the pipeline worker's broadcast fan-out).
func (o *outbound) enqueue(b []byte) {
	select {
	case o.ch <- b:
		return
	default:
	}

	o.mu.Lock()
	wasLagging := o.lagging
	o.lagging = true
	o.mu.Unlock()

	if !wasLagging {
		logs.Warning.Println("session outbound queue full, entering lagging state")
	}
}

// tryFlushLag clears the lagging flag once the channel has drained. No
// resync is sent; each path is brought up to date by its next admitted
// delta.
func (o *outbound) tryFlushLag() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lagging && len(o.ch) == 0 {
		o.lagging = false
	}
}

// drainWithin waits up to d for the transport's writer goroutine to empty
// the outbound channel on its own; it never consumes messages itself, since
// that is the writer's job.
func (o *outbound) drainWithin(d time.Duration) {
	deadline := time.Now().Add(d)
	for len(o.ch) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func (o *outbound) close() {
	close(o.ch)
}
