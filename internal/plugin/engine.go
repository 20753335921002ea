package plugin

import (
	"github.com/sirupsen/logrus"

	"github.com/discosat/satop-platform/internal/eventbus"
)

// Engine ties discovery, dependency resolution, loading, and the target
// graph together into the process lifecycle described in spec.md §4.E.
type Engine struct {
	App     *App
	Loaded  []Loaded
	Targets *TargetGraph
	bus     *eventbus.Bus
	log     *logrus.Entry
}

// Bootstrap discovers plugins under bundledDir and <dataRoot>/plugins,
// resolves a dependency order, loads them onto app, and builds + subscribes
// the target graph. A dependency cycle or missing dependency is fatal
// (returns an error); individual plugin load failures are not.
func Bootstrap(bundledDir, dataRoot string, app *App, log *logrus.Entry) (*Engine, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "plugin-engine")

	descs, err := Discover(bundledDir, dataRoot)
	if err != nil {
		return nil, err
	}

	order, err := ResolveOrder(descs)
	if err != nil {
		return nil, err
	}

	loaded := Load(order, app, log)

	successful := make([]Descriptor, 0, len(loaded))
	for _, l := range loaded {
		if l.Err == nil {
			successful = append(successful, l.Descriptor)
		}
	}

	graph, err := BuildTargetGraph(successful, TargetLookupFor(loaded))
	if err != nil {
		return nil, err
	}
	graph.Subscribe(app.Bus)

	return &Engine{App: app, Loaded: loaded, Targets: graph, bus: app.Bus, log: log}, nil
}

// Startup publishes the satop.startup root, running every plugin's startup
// target (and any other target chained after it) in dependency order.
func (e *Engine) Startup() {
	e.bus.Publish(RootStartup, nil)
}

// Shutdown publishes the satop.shutdown root. Each target runs to
// completion; there is no forced cancellation (spec.md §5).
func (e *Engine) Shutdown() {
	e.bus.Publish(RootShutdown, nil)
}
