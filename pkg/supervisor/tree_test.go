package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type flakyService struct {
	name   string
	fails  int32
	starts atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	n := f.starts.Add(1)
	if n <= f.fails {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyService) String() string { return f.name }

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree("clashbot-test", TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	polling := &flakyService{name: "polling", fails: 2}
	api := &flakyService{name: "api"}
	tree.AddPollingService(polling)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for polling.starts.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("polling starts = %d, want 3", polling.starts.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
	if got := api.starts.Load(); got != 1 {
		t.Errorf("api starts = %d, want 1", got)
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	c := DefaultTreeConfig()
	if c.FailureThreshold != 5 || c.FailureBackoff != 15*time.Second {
		t.Errorf("DefaultTreeConfig() = %+v", c)
	}
}
