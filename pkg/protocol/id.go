package protocol

import (
	"fmt"
	"sync/atomic"
	"time"
)

var (
	idEpoch = time.Now()
	idSeq   atomic.Uint64
)

// NewCommandID returns a per-process-unique, sortable command id of the form
// "<monotonic_ns>-<seq>". The clock part comes from the monotonic reading so
// wall-clock jumps cannot reorder ids.
func NewCommandID() string {
	ns := time.Since(idEpoch).Nanoseconds()
	return fmt.Sprintf("%d-%d", ns, idSeq.Add(1))
}
