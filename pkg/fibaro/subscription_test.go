package fibaro

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 5 * time.Millisecond

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	select {
	case <-task.Done():
		return task.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not finish")
		return nil
	}
}

func TestSubscriber_UnsubscribeDuringPoll(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	st := &stubTransport{handler: func(call int, _ url.Values) ([]byte, error) {
		if call == 0 {
			close(started)
			<-release
		}
		return reportBody(3, 0, `[{"id":1,"value":"1"}]`), nil
	}}

	var mu sync.Mutex
	var seen []PollResult
	sub := NewSubscriber(st, func(_ context.Context, res PollResult) error {
		mu.Lock()
		seen = append(seen, res)
		mu.Unlock()
		return nil
	}, WithPollDelay(testDelay))

	task, err := sub.Subscribe(context.Background())
	require.NoError(t, err)

	<-started
	assert.Equal(t, StateRunning, sub.State())
	sub.Unsubscribe()
	assert.Equal(t, StateStopping, sub.State())
	close(release)

	require.NoError(t, waitTask(t, task))
	assert.Equal(t, 1, st.count())
	assert.Equal(t, uint64(1), sub.Polls())
	assert.Equal(t, StateIdle, sub.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Stop)
	assert.Equal(t, EventCursor{Current: 2, Last: 3}, seen[0].Cursor)
}

func TestSubscriber_UnsubscribeBeforeFirstPoll(t *testing.T) {
	st := &stubTransport{handler: serverLast(1, "")}
	sub := NewSubscriber(st, nil, WithPollDelay(50*time.Millisecond))

	task, err := sub.Subscribe(context.Background())
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, waitTask(t, task))
	assert.Zero(t, st.count())
}

func TestSubscriber_HandlerOnlyOnValueChange(t *testing.T) {
	st := &stubTransport{handler: func(call int, _ url.Values) ([]byte, error) {
		if call == 2 {
			return reportBody(4, 0, `[{"id":7,"value":"55"}]`), nil
		}
		return reportBody(uint64(call+2), 0, `[{"id":7,"log":"x"}]`), nil
	}}

	got := make(chan PollResult, 10)
	var sub *Subscriber
	sub = NewSubscriber(st, func(_ context.Context, res PollResult) error {
		got <- res
		sub.Unsubscribe()
		return errors.New("handler failures are not fatal")
	}, WithPollDelay(testDelay))

	task, err := sub.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	require.Len(t, got, 1)
	res := <-got
	id, ok := res.Report.Changes[0].DeviceID()
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 3, st.count())
}

func TestSubscriber_PollErrorEndsTask(t *testing.T) {
	st := &stubTransport{handler: func(call int, _ url.Values) ([]byte, error) {
		if call < 2 {
			return reportBody(uint64(call+2), 0, ""), nil
		}
		return nil, newError(KindAuth, "GET refreshStates", "bad username or password", nil)
	}}
	sub := NewSubscriber(st, nil, WithPollDelay(testDelay))

	task, err := sub.Subscribe(context.Background())
	require.NoError(t, err)

	err = waitTask(t, task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindAuth, kind)

	assert.Equal(t, 3, st.count())
	assert.Equal(t, EventCursor{Current: 3, Last: 3}, sub.Cursor())
	assert.Equal(t, StateIdle, sub.State())
}

func TestSubscriber_AlreadySubscribedAndRestart(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	st := &stubTransport{handler: func(call int, _ url.Values) ([]byte, error) {
		if call == 0 {
			close(started)
			<-block
		}
		return reportBody(100, 0, ""), nil
	}}
	sub := NewSubscriber(st, nil, WithPollDelay(testDelay))

	task, err := sub.Subscribe(context.Background())
	require.NoError(t, err)

	_, err = sub.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	<-started
	sub.Unsubscribe()
	close(block)
	require.NoError(t, waitTask(t, task))

	first := sub.Cursor()
	assert.Equal(t, EventCursor{Current: 50, Last: 100}, first)

	task, err = sub.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return st.count() >= 2 }, time.Second, time.Millisecond)
	sub.Unsubscribe()
	require.NoError(t, waitTask(t, task))

	assert.Equal(t, "50", st.call(1).Get("last"))
}

func TestSubscriber_ContextCancel(t *testing.T) {
	st := &stubTransport{handler: serverLast(1, "")}
	sub := NewSubscriber(st, nil, WithPollDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	task, err := sub.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	err = waitTask(t, task)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, st.count())
}

func TestSubscriptionState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "state(9)", SubscriptionState(9).String())
}

func TestSubscriber_PollObserver(t *testing.T) {
	st := &stubTransport{handler: func(call int, _ url.Values) ([]byte, error) {
		if call == 0 {
			return reportBody(5, 0, ""), nil
		}
		return nil, newError(KindProtocol, "GET refreshStates", "malformed change report", nil)
	}}

	var mu sync.Mutex
	var results []PollResult
	var errs []error
	sub := NewSubscriber(st, nil,
		WithPollDelay(testDelay),
		WithPollObserver(func(res PollResult, err error) {
			mu.Lock()
			results = append(results, res)
			errs = append(errs, err)
			mu.Unlock()
		}),
	)

	task, err := sub.Subscribe(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, waitTask(t, task), ErrProtocol)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.NoError(t, errs[0])
	assert.Equal(t, EventCursor{Current: 2, Last: 5}, results[0].Cursor)
	assert.ErrorIs(t, errs[1], ErrProtocol)
	assert.Equal(t, EventCursor{Current: 2, Last: 5}, results[1].Cursor)
}
