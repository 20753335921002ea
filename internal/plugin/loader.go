package plugin

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/discosat/satop-platform/internal/auth"
)

// Loaded pairs a Descriptor with its instantiated Instance. Instance is nil
// if loading failed; failed plugins are excluded from the rest of startup
// rather than aborting it (spec.md §4.E step 4).
type Loaded struct {
	Descriptor Descriptor
	Instance   Instance
	Err        error
}

// Load instantiates each plugin in order, wires declared capabilities, and
// populates the inter-plugin method registry and HTTP mounts on app.
func Load(order []Descriptor, app *App, log *logrus.Entry) []Loaded {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "plugin-loader")

	loaded := make([]Loaded, 0, len(order))
	for _, d := range order {
		instance, err := loadOne(d, app, log)
		if err != nil {
			log.WithError(err).WithField("plugin", d.Name).Error("plugin failed to load; excluding from startup")
			loaded = append(loaded, Loaded{Descriptor: d, Err: err})
			continue
		}
		loaded = append(loaded, Loaded{Descriptor: d, Instance: instance})
	}
	return loaded
}

func loadOne(d Descriptor, app *App, log *logrus.Entry) (Instance, error) {
	factory, ok := lookupFactory(d.PackagePath)
	if !ok {
		return nil, fmt.Errorf("no factory registered for package_path %q (plugin %q)", d.PackagePath, d.Name)
	}

	dataDir := PluginDataDir(app.DataRoot, d.Name)
	instance, err := factory(d.Config, app, dataDir)
	if err != nil {
		return nil, fmt.Errorf("constructing plugin %q: %w", d.Name, err)
	}

	if d.HasCapability(CapHTTPRoutes) {
		mounter, ok := instance.(RouteMounter)
		if !ok {
			return nil, fmt.Errorf("plugin %q declares %s but does not implement RouteMounter", d.Name, CapHTTPRoutes)
		}
		mounter.MountRoutes(app.Mux)
	}

	if d.HasCapability(CapAuthProvider) {
		aware, ok := instance.(AuthProviderAware)
		if !ok {
			log.WithField("plugin", d.Name).Warn("plugin declares security.authentication_provider but does not implement AuthProviderAware")
		} else {
			providerKey := d.ProviderKey
			if providerKey == "" {
				providerKey = d.Name
			}
			aware.SetAuthCallbacks(AuthProviderCallbacks{
				CreateAuthToken: func(userID string) (string, error) {
					return app.Auth.Mint(userID, auth.TypeAccess, 0)
				},
				CreateRefreshToken: func(userID string) (string, error) {
					return app.Auth.Mint(userID, auth.TypeRefresh, 0)
				},
				ValidateToken: func(token string) (*auth.Claims, error) {
					return app.Auth.Validate(token, auth.TypeAccess)
				},
			})
		}
	}

	if mp, ok := instance.(MethodProvider); ok {
		app.registerMethods(d.Name, mp.ExportedMethods())
	}

	return instance, nil
}

// TargetLookupFor builds a TargetLookup over the successfully loaded
// plugins. Every target function, including the default "startup" and
// "shutdown" from Descriptor.mergedTargets, is resolved through the
// instance's TargetProvider; an instance without one resolves nothing.
func TargetLookupFor(loaded []Loaded) TargetLookup {
	byName := make(map[string]Instance, len(loaded))
	for _, l := range loaded {
		if l.Err == nil {
			byName[l.Descriptor.Name] = l.Instance
		}
	}
	return func(pluginName, targetName string) (TargetFunc, bool) {
		instance, ok := byName[pluginName]
		if !ok {
			return nil, false
		}
		tp, ok := instance.(TargetProvider)
		if !ok {
			return nil, false
		}
		return tp.TargetFunc(targetName)
	}
}
