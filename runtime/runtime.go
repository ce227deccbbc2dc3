// Package runtime wires the Metadata Registry, Hook Dispatcher, and driver
// set into the single process-wide value request handlers are handed.
// Rather than ambient globals, tests instantiate independent Runtimes.
package runtime

import (
	"context"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/hooks"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/objectqlmetrics"
)

// Runtime bundles the Registry, Dispatcher, and the named driver set every
// Context created from it shares.
type Runtime struct {
	Registry   *metadata.Registry
	Dispatcher *hooks.Dispatcher

	// Metrics, when non-nil, receives an ObserveOperation/ObserveDriverCall
	// call around every Repository operation and driver call. Nil by
	// default so tests that build a bare Runtime pay no instrumentation
	// cost.
	Metrics *objectqlmetrics.Metrics

	drivers           map[string]driver.Driver
	defaultDatasource string
}

// New returns a Runtime with an empty Registry and Dispatcher and the
// given drivers keyed by datasource name. defaultDatasource is used for
// any object whose ObjectDefinition.Datasource is empty.
func New(drivers map[string]driver.Driver, defaultDatasource string) *Runtime {
	return &Runtime{
		Registry:          metadata.NewRegistry(),
		Dispatcher:        hooks.NewDispatcher(),
		drivers:           drivers,
		defaultDatasource: defaultDatasource,
	}
}

// driverFor resolves the Driver instance backing def, falling back to the
// Runtime's default datasource when def.Datasource is unset.
func (rt *Runtime) driverFor(def metadata.ObjectDefinition) (driver.Driver, error) {
	name := def.Datasource
	if name == "" {
		name = rt.defaultDatasource
	}
	d, ok := rt.drivers[name]
	if !ok {
		return nil, apierr.Internal("no driver registered for datasource "+name, nil)
	}
	return d, nil
}

// RegisterDriver adds or replaces the driver bound to datasource name.
func (rt *Runtime) RegisterDriver(name string, d driver.Driver) {
	if rt.drivers == nil {
		rt.drivers = make(map[string]driver.Driver)
	}
	rt.drivers[name] = d
}

// CheckHealth runs every registered driver's CheckHealth, returning the
// first failure it finds (wrapped with the datasource name), for use by
// a process-level readiness probe.
func (rt *Runtime) CheckHealth(ctx context.Context) error {
	for name, d := range rt.drivers {
		if err := d.CheckHealth(ctx); err != nil {
			return apierr.Wrap(apierr.CodeDriverConnectionFailed, "datasource "+name+" is unhealthy", err)
		}
	}
	return nil
}
