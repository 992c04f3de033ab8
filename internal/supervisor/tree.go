// Package supervisor runs the long-lived services of a binary under a suture
// tree so a crashed service is restarted with backoff.
package supervisor

import (
	"context"
	"time"

	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func (c *TreeConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Tree has two layers: messaging (consumers, job worker, scheduler) and api
// (HTTP). A layer that keeps failing backs off without stopping the other.
type Tree struct {
	root      *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
	config    TreeConfig
}

func NewTree(name string, config TreeConfig) *Tree {
	config.applyDefaults()
	log := logging.Component("supervisor")

	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(log)

	root := suture.New(name, rootSpec)
	messaging := suture.New("messaging", spec)
	api := suture.New("api", spec)
	root.Add(messaging)
	root.Add(api)

	return &Tree{root: root, messaging: messaging, api: api, config: config}
}

func (t *Tree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// EventHook logs supervisor events through zerolog.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		var ev *zerolog.Event
		switch e.Type() {
		case suture.EventTypeServicePanic:
			ev = log.Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff, suture.EventTypeStopTimeout:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
