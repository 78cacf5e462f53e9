package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/PancyStudios/ClashBotGo/pkg/errors"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
)

// gateInterval is how often a blocked dispatch re-checks the waiter count
const gateInterval = 5 * time.Millisecond

// DispatchResult summarizes one Dispatch call
type DispatchResult struct {
	Invoked int
	Failed  int
}

// Dispatcher fans detected events out to their registered handlers under a
// global concurrency bound.
type Dispatcher struct {
	registry *events.Registry
	sem      *Semaphore
}

// NewDispatcher creates a dispatcher allowing maxHandlers concurrent handler calls
func NewDispatcher(registry *events.Registry, maxHandlers int) *Dispatcher {
	return &Dispatcher{registry: registry, sem: NewSemaphore(maxHandlers)}
}

// Semaphore exposes the handler semaphore
func (d *Dispatcher) Semaphore() *Semaphore {
	return d.sem
}

type dispatchTask struct {
	ev      events.Event
	handler events.Handler
}

// Dispatch runs every handler registered for evs and waits for all of them.
// Handler errors and panics are logged and counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, evs []events.Event) DispatchResult {
	var tasks []dispatchTask
	for _, ev := range evs {
		metrics.EventsDetected.WithLabelValues(string(ev.Kind), string(ev.Transition)).Inc()
		for _, h := range d.registry.Handlers(ev.Kind, ev.Transition) {
			tasks = append(tasks, dispatchTask{ev: ev, handler: h})
		}
	}
	if len(tasks) == 0 {
		return DispatchResult{}
	}

	if err := d.waitForRoom(ctx, len(tasks)); err != nil {
		return DispatchResult{}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result DispatchResult
	)
	for _, t := range tasks {
		wg.Add(1)
		go func(t dispatchTask) {
			defer wg.Done()
			if err := d.sem.Acquire(ctx); err != nil {
				metrics.HandlerInvocations.WithLabelValues(string(t.ev.Kind), string(t.ev.Transition), "cancelled").Inc()
				return
			}
			metrics.DispatchInFlight.Inc()
			err := d.invoke(ctx, t)
			metrics.DispatchInFlight.Dec()
			d.sem.Release()

			mu.Lock()
			result.Invoked++
			if err != nil {
				result.Failed++
			}
			mu.Unlock()

			if err != nil {
				metrics.HandlerInvocations.WithLabelValues(string(t.ev.Kind), string(t.ev.Transition), "error").Inc()
				logger.Error(fmt.Sprintf("Handler '%s' falló en %s/%s (%s): %v",
					t.handler.Name, t.ev.Kind, t.ev.Transition, t.ev.Tag, err), "Dispatcher")
				return
			}
			metrics.HandlerInvocations.WithLabelValues(string(t.ev.Kind), string(t.ev.Transition), "ok").Inc()
		}(t)
	}
	wg.Wait()
	return result
}

// waitForRoom blocks while the handler semaphore already has at least n
// waiters queued.
func (d *Dispatcher) waitForRoom(ctx context.Context, n int) error {
	for d.sem.Waiters() >= int64(n) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gateInterval):
		}
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, t dispatchTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			apperrors.HandleRecovered(r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.handler.Fn(ctx, t.ev)
}
