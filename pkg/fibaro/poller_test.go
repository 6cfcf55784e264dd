package fibaro

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPoller_RequestsCurrentOffset(t *testing.T) {
	st := &stubTransport{handler: serverLast(1000, "")}
	p := NewEventPoller(st)

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventCursor{Current: 950, Last: 1000}, res.Cursor)

	_, err = p.PollOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, st.count())
	assert.Equal(t, "1", st.call(0).Get("last"))
	assert.Equal(t, "950", st.call(1).Get("last"))
	assert.Equal(t, refreshStatesAction, st.actions[0])
	assert.Equal(t, EventCursor{Current: 951, Last: 1000}, p.Cursor())
}

func TestEventPoller_SteadyState(t *testing.T) {
	st := &stubTransport{handler: serverLast(11, "")}
	p := NewEventPoller(st, WithStartCursor(EventCursor{Current: 10, Last: 10}))

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventCursor{Current: 11, Last: 11}, res.Cursor)
	assert.False(t, res.Reset)

	res, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventCursor{Current: 11, Last: 11}, res.Cursor)
}

func TestEventPoller_Reset(t *testing.T) {
	tests := []struct {
		name   string
		resync bool
		want   EventCursor
	}{
		{
			name:   "resync restarts from the initial offset",
			resync: true,
			want:   EventCursor{Current: 2, Last: 10},
		},
		{
			name:   "without resync the cursor keeps its offset",
			resync: false,
			want:   EventCursor{Current: 500, Last: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &stubTransport{handler: serverLast(10, "")}
			p := NewEventPoller(st,
				WithStartCursor(EventCursor{Current: 500, Last: 500}),
				WithResyncOnReset(tt.resync),
			)

			res, err := p.PollOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, res.Reset)
			assert.Equal(t, tt.want, res.Cursor)
			assert.Equal(t, tt.want, p.Cursor())
		})
	}
}

func TestEventPoller_ResetToEmptyCounter(t *testing.T) {
	st := &stubTransport{handler: serverLast(0, "")}
	p := NewEventPoller(st, WithResyncOnReset(true))

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Reset)
	assert.Equal(t, EventCursor{Current: 0, Last: 0}, res.Cursor)

	for i := 0; i < 2; i++ {
		res, err = p.PollOnce(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Reset, "poll %d", i+2)
		assert.Equal(t, EventCursor{Current: 0, Last: 0}, res.Cursor)
		assert.LessOrEqual(t, res.Cursor.Current, res.Cursor.Last)
	}
	assert.Equal(t, "0", st.call(2).Get("last"))

	st.mu.Lock()
	st.handler = serverLast(3, "")
	st.mu.Unlock()

	res, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Reset)
	assert.Equal(t, EventCursor{Current: 1, Last: 3}, res.Cursor)
}

func TestEventPoller_ValueChangeDetection(t *testing.T) {
	tests := []struct {
		name    string
		changes string
		want    bool
	}{
		{name: "no changes", changes: `[]`, want: false},
		{name: "value", changes: `[{"id":12,"value":"1"}]`, want: true},
		{name: "value sensor", changes: `[{"id":3,"valueSensor":"21.5"}]`, want: true},
		{name: "mixed case", changes: `[{"id":3,"ValueMeter":"4"}]`, want: true},
		{name: "other properties only", changes: `[{"id":3,"log":"ok","dead":"false"}]`, want: false},
		{name: "one of many", changes: `[{"id":1,"log":""},{"id":2,"value":"0"}]`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &stubTransport{handler: serverLast(2, tt.changes)}
			p := NewEventPoller(st)

			res, err := p.PollOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Changed)
			require.NotNil(t, res.Report)
			assert.Equal(t, int64(1700000000), res.Report.Timestamp)
		})
	}
}

func TestEventPoller_Errors(t *testing.T) {
	start := EventCursor{Current: 20, Last: 30}

	tests := []struct {
		name    string
		handler func(int, url.Values) ([]byte, error)
		want    error
	}{
		{
			name: "malformed body",
			handler: func(int, url.Values) ([]byte, error) {
				return []byte("<html>oops</html>"), nil
			},
			want: ErrProtocol,
		},
		{
			name: "missing last",
			handler: func(int, url.Values) ([]byte, error) {
				return []byte(`{"changes":[]}`), nil
			},
			want: ErrProtocol,
		},
		{
			name: "transport failure",
			handler: func(int, url.Values) ([]byte, error) {
				return nil, newError(KindUnreachable, "GET refreshStates", "hub not running", nil)
			},
			want: ErrUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewEventPoller(&stubTransport{handler: tt.handler}, WithStartCursor(start))

			res, err := p.PollOnce(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Equal(t, start, res.Cursor)
			assert.Equal(t, start, p.Cursor())
		})
	}
}

func TestEventPoller_StopFlag(t *testing.T) {
	var stop atomic.Bool
	p := NewEventPoller(&stubTransport{handler: serverLast(5, "")})
	p.stop = &stop

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stop)

	stop.Store(true)
	res, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stop)
}
