package fibaro

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/moroshma/hc2stream/pkg/logger"
)

const refreshStatesAction = "refreshStates"

// PollResult is the outcome of one successful PollOnce
type PollResult struct {
	// Cursor is the cursor after the poll
	Cursor EventCursor
	// Changed is set when the report carries at least one value change
	Changed bool
	// Stop mirrors the subscription stop flag at the end of the iteration
	Stop bool
	// Reset is set when the server offset went backwards
	Reset bool
	// Report is the decoded response
	Report *ChangeReport
}

// EventPoller owns the event cursor and fetches one batch of changes per
// PollOnce. Calls to PollOnce are serialized.
type EventPoller struct {
	transport Transport
	logger    *logger.Logger
	resync    bool
	stop      *atomic.Bool

	pollMu sync.Mutex

	mu     sync.RWMutex
	cursor EventCursor
}

// PollerOption configures an EventPoller
type PollerOption func(*EventPoller)

// WithResyncOnReset controls what happens when the server reports a last
// offset below the cursor. Enabled (the default), the cursor restarts from
// InitialOffset and catches up from there; disabled, the cursor is left
// alone and the same offset is requested again.
func WithResyncOnReset(enabled bool) PollerOption {
	return func(p *EventPoller) {
		p.resync = enabled
	}
}

// WithStartCursor overrides the initial cursor
func WithStartCursor(c EventCursor) PollerOption {
	return func(p *EventPoller) {
		p.cursor = c
	}
}

// WithPollerLogger sets the poller logger
func WithPollerLogger(l *logger.Logger) PollerOption {
	return func(p *EventPoller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewEventPoller creates a poller reading changes through t
func NewEventPoller(t Transport, opts ...PollerOption) *EventPoller {
	p := &EventPoller{
		transport: t,
		logger:    logger.NewNop(),
		resync:    true,
		cursor:    NewEventCursor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor returns a snapshot of the current cursor
func (p *EventPoller) Cursor() EventCursor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// PollOnce fetches the changes since the cursor and advances it. On error
// the cursor is unchanged and the returned result holds it.
func (p *EventPoller) PollOnce(ctx context.Context) (PollResult, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	cur := p.Cursor()

	params := url.Values{}
	params.Set("last", strconv.FormatUint(cur.Current, 10))

	body, err := p.transport.Get(ctx, refreshStatesAction, params)
	if err != nil {
		return PollResult{Cursor: cur}, err
	}

	report, err := decodeReport(body)
	if err != nil {
		return PollResult{Cursor: cur}, err
	}

	next, reset := p.advance(cur, report.Last)

	p.mu.Lock()
	p.cursor = next
	p.mu.Unlock()

	res := PollResult{
		Cursor:  next,
		Changed: report.HasValueChange(),
		Stop:    p.stop != nil && p.stop.Load(),
		Reset:   reset,
		Report:  report,
	}

	p.logger.Debug("Polled changes",
		logger.Uint64("current", next.Current),
		logger.Uint64("last", next.Last),
		logger.Int("changes", len(report.Changes)),
	)

	if res.Changed {
		p.logger.Info("Value change",
			logger.Uint64("current", next.Current),
			logger.Uint64("last", report.Last),
			logger.Time("event_time", report.Time()),
			logger.Any("changes", report.Changes),
		)
	}

	return res, nil
}

func (p *EventPoller) advance(cur EventCursor, last uint64) (EventCursor, bool) {
	if !cur.IsReset(last) {
		return cur.Advance(last), false
	}

	if !p.resync {
		cur.Last = last
		return cur, true
	}

	p.logger.Warn("Server offset went backwards, resynchronizing",
		logger.Uint64("current", cur.Current),
		logger.Uint64("server_last", last),
	)
	if last < InitialOffset {
		// empty counter, keep Current <= Last
		return EventCursor{Current: last, Last: last}, true
	}
	return NewEventCursor().Advance(last), true
}

func decodeReport(body []byte) (*ChangeReport, error) {
	var wire struct {
		Last      *uint64  `json:"last"`
		Timestamp int64    `json:"timestamp"`
		Changes   []Change `json:"changes"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, newError(KindProtocol, "GET "+refreshStatesAction, "malformed change report", err)
	}
	if wire.Last == nil {
		return nil, newError(KindProtocol, "GET "+refreshStatesAction, "change report has no last offset", nil)
	}

	return &ChangeReport{
		Last:      *wire.Last,
		Timestamp: wire.Timestamp,
		Changes:   wire.Changes,
		Raw:       body,
	}, nil
}
