package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// LifecycleRunner keeps a conversation process alive until its context is
// canceled or Stop is called, then drains it before reporting stopped.
// A runner runs exactly once.
type LifecycleRunner struct {
	state        atomic.Int32
	ctx          context.Context
	cancel       context.CancelFunc
	hooks        Hooks
	drainer      Drainer
	drainTimeout time.Duration

	onceDrain sync.Once
	drainErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, drainTimeout time.Duration) *LifecycleRunner {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LifecycleRunner{
		ctx:          ctx,
		cancel:       cancel,
		hooks:        hooks,
		drainer:      drainer,
		drainTimeout: drainTimeout,
	}
	r.state.Store(int32(StateNew))
	return r
}

// Run blocks until ctx is canceled or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return fmt.Errorf("runner already %s", r.State())
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))
	<-r.ctx.Done()
	return r.drain()
}

// Stop ends the conversation from outside Run. Safe from any state and
// idempotent.
func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.drain()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

// drain hangs up exactly once. A drainer that never returns is abandoned
// after the drain timeout so shutdown cannot wedge the process.
func (r *LifecycleRunner) drain() error {
	r.onceDrain.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			done := make(chan struct{})
			go func() {
				_ = r.drainer.Drain()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(r.drainTimeout):
				r.drainErr = errors.New("drain timed out")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.drainErr
}
