package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discosat/satop-platform/internal/eventbus"
)

func TestTargetGraphRunsAfterEdgesInOrder(t *testing.T) {
	descs := []Descriptor{
		{Name: "p", Targets: map[string]TargetSpec{
			"startup": {Function: "startup", After: []string{RootStartup}},
		}},
		{Name: "q", Targets: map[string]TargetSpec{
			"startup": {Function: "startup", After: []string{"p.startup"}},
		}},
	}

	var ran []string
	lookup := func(plugin, fn string) (TargetFunc, bool) {
		return func() error {
			ran = append(ran, plugin)
			return nil
		}, true
	}

	g, err := BuildTargetGraph(descs, lookup)
	require.NoError(t, err)

	bus := eventbus.New(nil)
	g.Subscribe(bus)
	bus.Publish(RootStartup, nil)

	require.Equal(t, []string{"p", "q"}, ran)
}

func TestTargetGraphDetectsCycle(t *testing.T) {
	descs := []Descriptor{
		{Name: "p", Targets: map[string]TargetSpec{
			"startup": {Function: "startup", After: []string{"q.startup"}},
		}},
		{Name: "q", Targets: map[string]TargetSpec{
			"startup": {Function: "startup", After: []string{"p.startup"}},
		}},
	}
	_, err := BuildTargetGraph(descs, func(string, string) (TargetFunc, bool) { return nil, false })
	require.Error(t, err)
}

func TestTargetGraphRejectsUnknownEdgeEndpoint(t *testing.T) {
	descs := []Descriptor{
		{Name: "p", Targets: map[string]TargetSpec{
			"startup": {Function: "startup", After: []string{"ghost.startup"}},
		}},
	}
	_, err := BuildTargetGraph(descs, func(string, string) (TargetFunc, bool) { return nil, false })
	require.Error(t, err)
}

func TestTargetGraphShutdownRootIsIndependent(t *testing.T) {
	descs := []Descriptor{
		{Name: "p"}, // gets default startup/shutdown targets
	}
	var ranShutdown bool
	lookup := func(plugin, fn string) (TargetFunc, bool) {
		if fn == "shutdown" {
			return func() error { ranShutdown = true; return nil }, true
		}
		return func() error { return nil }, true
	}

	g, err := BuildTargetGraph(descs, lookup)
	require.NoError(t, err)

	bus := eventbus.New(nil)
	g.Subscribe(bus)
	bus.Publish(RootShutdown, nil)

	require.True(t, ranShutdown)
}
