package queue

import (
	"errors"
	"sort"
	"time"
)

// Entry is a driver's claim to a position in the FIFO wait list.
// JoinedAt and Seq are server-assigned; Seq breaks timestamp ties in
// insertion order. OrderIndex is zero unless an administrative reorder
// has pinned an explicit position, in which case it wins over JoinedAt.
type Entry struct {
	DriverID   string    `json:"driver_id"`
	Plate      string    `json:"plate"`
	JoinedAt   time.Time `json:"joined_at"`
	Seq        int64     `json:"seq"`
	OrderIndex int64     `json:"order_index,omitempty"`
}

// HasExplicitOrder reports whether an admin reorder pinned this entry.
func (e Entry) HasExplicitOrder() bool {
	return e.OrderIndex > 0
}

// Less is the canonical queue ordering: explicitly ordered entries
// first by index, then FIFO entries by join timestamp, ties broken by
// insertion sequence.
func Less(a, b Entry) bool {
	switch {
	case a.HasExplicitOrder() && b.HasExplicitOrder():
		return a.OrderIndex < b.OrderIndex
	case a.HasExplicitOrder():
		return true
	case b.HasExplicitOrder():
		return false
	case !a.JoinedAt.Equal(b.JoinedAt):
		return a.JoinedAt.Before(b.JoinedAt)
	default:
		return a.Seq < b.Seq
	}
}

// Sort orders entries in place by the canonical queue ordering.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
}

var (
	ErrNotQueued     = errors.New("driver has no queue entry")
	ErrReorderFailed = errors.New("queue reorder was not applied")
)
