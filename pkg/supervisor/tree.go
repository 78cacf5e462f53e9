// Package supervisor runs the bot's long-lived services under a suture tree
// so a crashed service is restarted with backoff instead of taking the
// process down.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/thejerf/suture/v4"
)

// TreeConfig holds the restart policy of the tree
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns the restart policy used in production
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the root supervisor with one child per layer
type Tree struct {
	root    *suture.Supervisor
	polling *suture.Supervisor
	api     *suture.Supervisor
}

// NewTree builds the supervisor tree named after the bot
func NewTree(name string, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	spec := suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New(name, spec)
	polling := suture.New("polling", spec)
	api := suture.New("api", spec)
	root.Add(polling)
	root.Add(api)

	return &Tree{root: root, polling: polling, api: api}
}

// AddPollingService adds a service to the polling layer
func (t *Tree) AddPollingService(svc suture.Service) suture.ServiceToken {
	return t.polling.Add(svc)
}

// AddAPIService adds a service to the api layer
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx ends
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in its own goroutine
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that ignored the shutdown
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// logEvent routes suture events through the bot logger
func logEvent(e suture.Event) {
	switch ev := e.(type) {
	case suture.EventServicePanic:
		logger.Critical(fmt.Sprintf("Pánico en %s/%s: %s", ev.SupervisorName, ev.ServiceName, ev.PanicMsg), "Supervisor")
	case suture.EventServiceTerminate:
		logger.Error(fmt.Sprintf("%s/%s terminó: %v", ev.SupervisorName, ev.ServiceName, ev.Err), "Supervisor")
	case suture.EventBackoff:
		logger.Warn(fmt.Sprintf("%s en backoff por fallos repetidos", ev.SupervisorName), "Supervisor")
	case suture.EventResume:
		logger.Info(fmt.Sprintf("%s sale del backoff", ev.SupervisorName), "Supervisor")
	case suture.EventStopTimeout:
		logger.Warn(fmt.Sprintf("%s/%s no se detuvo a tiempo", ev.SupervisorName, ev.ServiceName), "Supervisor")
	default:
		logger.Debug(e.String(), "Supervisor")
	}
}
