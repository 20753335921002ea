// Package plugin implements discovery, dependency-ordered loading, and the
// target-graph lifecycle scheduler that drives plugin startup/shutdown
// (spec.md §4.E).
package plugin

// Capability names a plugin may declare in its config.yaml.
const (
	CapHTTPRoutes   = "http.add_routes"
	CapAuthProvider = "security.authentication_provider"
)

// TargetSpec is one declared lifecycle step of a plugin.
type TargetSpec struct {
	Function string   `yaml:"function"`
	Before   []string `yaml:"before"`
	After    []string `yaml:"after"`
}

// Descriptor is a plugin's config.yaml, as discovered on disk.
type Descriptor struct {
	Name         string                `yaml:"name"`
	PackagePath  string                `yaml:"package_path"`
	Config       map[string]any        `yaml:"config"`
	Dependencies []string              `yaml:"dependencies"`
	Capabilities []string              `yaml:"capabilities"`
	ProviderKey  string                `yaml:"provider_key"`
	Targets      map[string]TargetSpec `yaml:"targets"`

	// dir is the directory the descriptor was loaded from, kept for
	// plugin_data path resolution.
	dir string
}

// HasCapability reports whether the descriptor declares cap.
func (d Descriptor) HasCapability(cap string) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// mergedTargets returns the plugin's declared targets merged with the two
// default targets every plugin gets for free (spec.md §4.E step 5).
func (d Descriptor) mergedTargets() map[string]TargetSpec {
	out := make(map[string]TargetSpec, len(d.Targets)+2)
	for name, t := range d.Targets {
		out[name] = t
	}
	if _, ok := out["startup"]; !ok {
		out["startup"] = TargetSpec{Function: "startup", After: []string{"satop.startup"}}
	}
	if _, ok := out["shutdown"]; !ok {
		out["shutdown"] = TargetSpec{Function: "shutdown", After: []string{"satop.shutdown"}}
	}
	return out
}
