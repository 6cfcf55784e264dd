package fibaro

const (
	// InitialOffset is where a fresh cursor starts
	InitialOffset uint64 = 1
	// MaxCatchUp is the largest replay window kept after falling behind
	MaxCatchUp uint64 = 50
)

// EventCursor tracks the position in the hub change history.
// Current is the offset requested next, Last the highest offset reported.
type EventCursor struct {
	Current uint64 `json:"current"`
	Last    uint64 `json:"last"`
}

// NewEventCursor returns the cursor a fresh poller starts from
func NewEventCursor() EventCursor {
	return EventCursor{Current: InitialOffset, Last: InitialOffset}
}

// Behind reports whether the server has offsets the cursor has not reached
func (c EventCursor) Behind() bool {
	return c.Current < c.Last
}

// Lag is the number of offsets between Current and Last
func (c EventCursor) Lag() uint64 {
	if c.Current >= c.Last {
		return 0
	}
	return c.Last - c.Current
}

// Advance records the server's last offset and moves Current one step, or
// up to Last-MaxCatchUp when it has fallen further behind than that.
// A Last below Current leaves Current where it is.
func (c EventCursor) Advance(last uint64) EventCursor {
	c.Last = last
	if c.Current < c.Last {
		if c.Last-c.Current > MaxCatchUp {
			c.Current = c.Last - MaxCatchUp
		} else {
			c.Current++
		}
	}
	return c
}

// IsReset reports whether last is behind the cursor, which happens when
// the hub restarts and its counter starts over.
func (c EventCursor) IsReset(last uint64) bool {
	return last < c.Current
}
