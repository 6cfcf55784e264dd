package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/moroshma/hc2stream/internal/domain/entity"
	"github.com/moroshma/hc2stream/internal/domain/repository"
	"github.com/moroshma/hc2stream/internal/metrics"
	"github.com/moroshma/hc2stream/pkg/fibaro"
	"github.com/moroshma/hc2stream/pkg/logger"
)

// BridgeConfig tunes the bridge subscription
type BridgeConfig struct {
	PollDelay     time.Duration
	ResyncOnReset bool

	SinkTimeout time.Duration

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMaxElapsed      time.Duration
}

// BridgeUseCase forwards hub value changes to the configured sinks
type BridgeUseCase struct {
	sub     *fibaro.Subscriber
	sinks   []repository.SinkRepository
	metrics *metrics.Metrics
	logger  *logger.Logger
	cfg     BridgeConfig

	restarts atomic.Uint64
	stopped  atomic.Bool

	mu          sync.RWMutex
	cancelRetry context.CancelFunc
	lastErr     error
	lastBatch   time.Time
}

// NewBridgeUseCase creates a bridge polling through transport
func NewBridgeUseCase(
	transport fibaro.Transport,
	sinks []repository.SinkRepository,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg BridgeConfig,
) *BridgeUseCase {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = time.Second
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		cfg.RetryMaxInterval = cfg.RetryInitialInterval
	}

	uc := &BridgeUseCase{
		sinks:   sinks,
		metrics: m,
		logger:  log,
		cfg:     cfg,
	}

	pollerOpts := []fibaro.PollerOption{fibaro.WithResyncOnReset(cfg.ResyncOnReset)}

	uc.sub = fibaro.NewSubscriber(transport, uc.handleChange,
		fibaro.WithPollDelay(cfg.PollDelay),
		fibaro.WithSubscriberLogger(log.Named("subscriber")),
		fibaro.WithPollObserver(uc.observePoll),
		fibaro.WithPollerOptions(pollerOpts...),
	)

	return uc
}

// Run subscribes and keeps the subscription alive until Stop is called or
// ctx ends. A failed subscription is restarted with exponential backoff;
// authentication failures and an exhausted retry budget end Run with the
// last poll error.
func (uc *BridgeUseCase) Run(ctx context.Context) error {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	uc.mu.Lock()
	uc.cancelRetry = cancel
	uc.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = uc.cfg.RetryInitialInterval
	b.MaxInterval = uc.cfg.RetryMaxInterval
	b.MaxElapsedTime = uc.cfg.RetryMaxElapsed
	b.Reset()

	operation := func() error {
		if uc.stopped.Load() {
			return nil
		}
		pollsBefore := uc.sub.Polls()

		task, err := uc.sub.Subscribe(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		// Subscribe clears the stop flag; honour a Stop that raced with it
		if uc.stopped.Load() {
			uc.sub.Unsubscribe()
		}
		uc.metrics.SetState(fibaro.StateRunning)

		err = task.Wait()
		uc.metrics.SetState(fibaro.StateIdle)

		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		uc.setLastErr(err)
		if errors.Is(err, fibaro.ErrAuth) {
			return backoff.Permanent(err)
		}
		// a subscription that made progress starts the backoff over
		if uc.sub.Polls() > pollsBefore {
			b.Reset()
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		uc.restarts.Add(1)
		uc.metrics.ObserveRestart()
		uc.logger.Warn("Subscription failed, resubscribing",
			logger.Error(err),
			logger.Duration("retry_in", next),
			logger.Uint64("current", uc.sub.Cursor().Current),
		)
	}

	uc.logger.Info("Bridge started",
		logger.Int("sinks", len(uc.sinks)),
		logger.Duration("sink_timeout", uc.cfg.SinkTimeout),
	)

	err := backoff.RetryNotify(operation, backoff.WithContext(b, retryCtx), notify)
	if err != nil && uc.stopped.Load() && ctx.Err() == nil {
		err = nil
	}
	if err != nil {
		uc.logger.Error("Bridge stopped", logger.Error(err))
		return err
	}

	uc.logger.Info("Bridge stopped", logger.Uint64("current", uc.sub.Cursor().Current))
	return nil
}

// Stop ends the subscription after the in-flight poll and cancels any
// pending restart. Run then returns nil.
func (uc *BridgeUseCase) Stop() {
	uc.stopped.Store(true)
	uc.sub.Unsubscribe()
	uc.metrics.SetState(uc.sub.State())

	uc.mu.RLock()
	cancel := uc.cancelRetry
	uc.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// State reports the subscription state
func (uc *BridgeUseCase) State() fibaro.SubscriptionState {
	return uc.sub.State()
}

// Status returns a snapshot for operators
func (uc *BridgeUseCase) Status() entity.BridgeStatus {
	uc.mu.RLock()
	defer uc.mu.RUnlock()

	status := entity.BridgeStatus{
		State:     uc.sub.State().String(),
		Cursor:    uc.sub.Cursor(),
		Polls:     uc.sub.Polls(),
		Restarts:  uc.restarts.Load(),
		LastBatch: uc.lastBatch,
	}
	if uc.lastErr != nil {
		status.LastError = uc.lastErr.Error()
	}
	return status
}

func (uc *BridgeUseCase) observePoll(res fibaro.PollResult, err error) {
	if err != nil {
		uc.metrics.ObservePollError(err)
		return
	}
	uc.metrics.ObservePoll(res)
}

// handleChange fans a value-changing poll out to every sink. Sinks run
// concurrently; one failing sink does not hold back the others.
func (uc *BridgeUseCase) handleChange(ctx context.Context, res fibaro.PollResult) error {
	batch, err := entity.NewChangeBatch(res)
	if err != nil {
		return fmt.Errorf("failed to build change batch: %w", err)
	}
	if len(batch.Records) == 0 {
		return nil
	}

	uc.metrics.ObserveChanges(len(batch.Records))

	errs := make([]error, len(uc.sinks))
	var g errgroup.Group
	for i, sink := range uc.sinks {
		i, sink := i, sink
		g.Go(func() error {
			sinkCtx, cancel := context.WithTimeout(ctx, uc.cfg.SinkTimeout)
			defer cancel()

			start := time.Now()
			err := sink.Publish(sinkCtx, batch)
			uc.metrics.ObserveSink(sink.Name(), time.Since(start), err)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	uc.mu.Lock()
	uc.lastBatch = time.Now().UTC()
	uc.mu.Unlock()

	uc.logger.Debug("Change batch delivered",
		logger.String("batch_id", batch.ID.String()),
		logger.Int("records", len(batch.Records)),
		logger.Uint64("last", batch.Cursor.Last),
	)

	return errors.Join(errs...)
}

func (uc *BridgeUseCase) setLastErr(err error) {
	uc.mu.Lock()
	uc.lastErr = err
	uc.mu.Unlock()
}
