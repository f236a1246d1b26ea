package orders

import (
	"strconv"
	"sync"
	"time"
)

// trackingIDs issues TRK<epoch millis> ids. Two deliveries created in the same
// millisecond get consecutive values so ids stay unique within the process.
// Across processes the unique index on deliveries.tracking_id rejects a
// duplicate and CreateOrder retries with the next value.
type trackingIDs struct {
	mu   sync.Mutex
	last int64
}

func (g *trackingIDs) next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return "TRK" + strconv.FormatInt(ms, 10)
}
