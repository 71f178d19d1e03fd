package store

import (
	"sync/atomic"

	sf "github.com/tinode/snowflake"
)

// ArrivalSeq produces the monotonic tie-break sequence used by primary
// election (§3 invariant 3: "ties broken by monotonic arrival order").
// Adapted from the teacher's UidGenerator: a snowflake sequence is already
// monotonically increasing by construction, so it doubles as an arrival
// counter. The atomic fallback counter is used only when the snowflake
// sequence returns an error.
type ArrivalSeq struct {
	seq      *sf.SnowFlake
	fallback atomic.Uint64
}

// NewArrivalSeq allocates a sequence for the given worker id. workerID only
// needs to be unique when multiple store instances share a snowflake epoch;
// a single-process server can always pass 0.
func NewArrivalSeq(workerID uint32) (*ArrivalSeq, error) {
	seq, err := sf.NewSnowFlake(workerID)
	if err != nil {
		return nil, err
	}
	return &ArrivalSeq{seq: seq}, nil
}

// Next returns the next arrival number. Only ever called while holding the
// store's write lock, so callers observe a total order.
func (a *ArrivalSeq) Next() uint64 {
	n, err := a.seq.Next()
	if err != nil {
		// The snowflake sequence only errors on clock regression; arrival
		// order still needs to advance, so fall back to a plain counter
		// rather than propagate a clock fault into a data write.
		return 1<<63 | a.fallback.Add(1)
	}
	return n
}
