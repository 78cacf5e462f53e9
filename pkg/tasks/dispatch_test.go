package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/events"
)

func TestDispatchBoundsConcurrency(t *testing.T) {
	registry := events.NewRegistry()
	d := NewDispatcher(registry, 2)

	var running, peak atomic.Int32
	slow := func(ctx context.Context, ev events.Event) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		registry.Register(events.KindWar, events.WarAttack, events.Handler{Name: name, Fn: slow})
	}

	ev := events.New(events.KindWar, events.WarAttack, "#CLAN", time.Now(), nil)
	res := d.Dispatch(context.Background(), []events.Event{ev, ev})

	if res.Invoked != 10 || res.Failed != 0 {
		t.Errorf("Dispatch() = %+v, want 10 invoked, 0 failed", res)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if d.Semaphore().InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", d.Semaphore().InFlight())
	}
}

func TestDispatchCountsFailures(t *testing.T) {
	registry := events.NewRegistry()
	d := NewDispatcher(registry, 4)

	registry.Register(events.KindPlayer, events.PlayerName, events.Handler{
		Name: "fails",
		Fn:   func(ctx context.Context, ev events.Event) error { return errors.New("discord 500") },
	})
	registry.Register(events.KindPlayer, events.PlayerName, events.Handler{
		Name: "panics",
		Fn:   func(ctx context.Context, ev events.Event) error { panic("nil map") },
	})
	registry.Register(events.KindPlayer, events.PlayerName, events.Handler{
		Name: "works",
		Fn:   func(ctx context.Context, ev events.Event) error { return nil },
	})

	ev := events.New(events.KindPlayer, events.PlayerName, "#P", time.Now(), nil)
	res := d.Dispatch(context.Background(), []events.Event{ev})
	if res.Invoked != 3 || res.Failed != 2 {
		t.Errorf("Dispatch() = %+v, want 3 invoked, 2 failed", res)
	}
}

func TestDispatchWithoutHandlers(t *testing.T) {
	d := NewDispatcher(events.NewRegistry(), 1)
	ev := events.New(events.KindClan, events.ClanUpdate, "#CLAN", time.Now(), nil)
	if res := d.Dispatch(context.Background(), []events.Event{ev}); res.Invoked != 0 {
		t.Errorf("Dispatch() = %+v, want nothing invoked", res)
	}
}

func TestPoolSubmit(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if ran.Load() != 5 {
		t.Errorf("ran = %d, want 5", ran.Load())
	}

	err := p.Submit(context.Background(), func(ctx context.Context) error { panic("boom") })
	if err == nil {
		t.Error("Submit() of a panicking job = nil, want error")
	}
}

func TestPoolClosed(t *testing.T) {
	p := NewPool(1)
	p.Close()
	if err := p.Submit(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after Close = %v, want %v", err, ErrPoolClosed)
	}
}
