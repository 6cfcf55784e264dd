package fibaro

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/moroshma/hc2stream/pkg/logger"
)

// DefaultPollDelay is the pause before every refreshStates fetch
const DefaultPollDelay = 250 * time.Millisecond

// ErrAlreadySubscribed is returned by Subscribe while a task is running
var ErrAlreadySubscribed = errors.New("subscription already running")

// SubscriptionState is the externally visible state of a Subscriber
type SubscriptionState int32

const (
	StateIdle SubscriptionState = iota
	StateRunning
	StateStopping
)

func (s SubscriptionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PollObserver sees the outcome of every poll, changed or not
type PollObserver func(res PollResult, err error)

// ChangeHandler receives every poll result that carries a value change.
// A returned error is logged and does not end the subscription.
type ChangeHandler func(ctx context.Context, res PollResult) error

// Subscriber repeatedly polls the hub for changes until Unsubscribe is
// called, the context ends, or a poll fails.
type Subscriber struct {
	poller   *EventPoller
	handler  ChangeHandler
	observer PollObserver
	delay    time.Duration
	logger   *logger.Logger

	pollerOpts []PollerOption

	stop    atomic.Bool
	running atomic.Bool
	polls   atomic.Uint64
}

// SubscriberOption configures a Subscriber
type SubscriberOption func(*Subscriber)

// WithPollDelay overrides the delay before each fetch
func WithPollDelay(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithPollObserver registers a callback run after every poll, before the
// change handler
func WithPollObserver(o PollObserver) SubscriberOption {
	return func(s *Subscriber) {
		s.observer = o
	}
}

// WithSubscriberLogger sets the logger of the subscriber and its poller
func WithSubscriberLogger(l *logger.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollerOptions passes options through to the underlying EventPoller
func WithPollerOptions(opts ...PollerOption) SubscriberOption {
	return func(s *Subscriber) {
		s.pollerOpts = append(s.pollerOpts, opts...)
	}
}

// NewSubscriber builds a subscriber polling through t. handler may be nil.
func NewSubscriber(t Transport, handler ChangeHandler, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		handler: handler,
		delay:   DefaultPollDelay,
		logger:  logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	pollerOpts := append([]PollerOption{WithPollerLogger(s.logger.Named("poller"))}, s.pollerOpts...)
	s.poller = NewEventPoller(t, pollerOpts...)
	s.poller.stop = &s.stop

	return s
}

// NewSubscriber builds a subscriber on this client using the client logger
func (c *Client) NewSubscriber(handler ChangeHandler, opts ...SubscriberOption) *Subscriber {
	opts = append([]SubscriberOption{WithSubscriberLogger(c.logger.Named("subscriber"))}, opts...)
	return NewSubscriber(c, handler, opts...)
}

// Subscribe clears the stop flag and starts the polling loop in the
// background. The cursor carries over from any previous run.
func (s *Subscriber) Subscribe(ctx context.Context) (*Task, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}
	s.stop.Store(false)

	t := &Task{done: make(chan struct{})}
	go func() {
		t.err = s.run(ctx)
		s.running.Store(false)
		close(t.done)
	}()

	return t, nil
}

// Unsubscribe asks the loop to stop at the next iteration boundary. An
// in-flight poll always completes. Safe to call at any time, any number of
// times.
func (s *Subscriber) Unsubscribe() {
	s.stop.Store(true)
}

// State reports idle, running, or stopping (running with a stop request)
func (s *Subscriber) State() SubscriptionState {
	if !s.running.Load() {
		return StateIdle
	}
	if s.stop.Load() {
		return StateStopping
	}
	return StateRunning
}

// Cursor returns a snapshot of the poller cursor
func (s *Subscriber) Cursor() EventCursor {
	return s.poller.Cursor()
}

// Polls returns the number of completed polls since creation
func (s *Subscriber) Polls() uint64 {
	return s.polls.Load()
}

func (s *Subscriber) run(ctx context.Context) error {
	s.logger.Info("Subscription started",
		logger.Duration("poll_delay", s.delay),
		logger.Uint64("current", s.poller.Cursor().Current),
	)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Subscription cancelled", logger.Error(ctx.Err()))
			return ctx.Err()
		case <-timer.C:
		}

		if s.stop.Load() {
			s.logger.Info("Subscription stopped")
			return nil
		}

		res, err := s.poller.PollOnce(ctx)
		if s.observer != nil {
			s.observer(res, err)
		}
		if err != nil {
			s.logger.Error("Poll failed, ending subscription",
				logger.Uint64("current", res.Cursor.Current),
				logger.Error(err),
			)
			return fmt.Errorf("failed to poll changes: %w", err)
		}
		s.polls.Add(1)

		if res.Changed && s.handler != nil {
			if err := s.handler(ctx, res); err != nil {
				s.logger.Warn("Change handler failed",
					logger.Uint64("current", res.Cursor.Current),
					logger.Error(err),
				)
			}
		}

		if res.Stop {
			s.logger.Info("Subscription stopped",
				logger.Uint64("current", res.Cursor.Current),
				logger.Uint64("last", res.Cursor.Last),
			)
			return nil
		}

		timer.Reset(s.delay)
	}
}

// Task is one running subscription
type Task struct {
	done chan struct{}
	err  error
}

// Done is closed when the subscription loop has returned
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the loop returns and reports how it ended: nil after
// Unsubscribe, the context error after cancellation, or the poll error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Err is Wait without blocking; nil while the task is still running
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
