package plugin

import (
	"net/http"
	"path/filepath"
	"sync"

	"github.com/discosat/satop-platform/internal/apierror"
	"github.com/discosat/satop-platform/internal/auth"
	"github.com/discosat/satop-platform/internal/eventbus"
)

func unknownPluginError(name string) error {
	return apierror.NotFound("plugin %q is not loaded", name)
}

func unknownMethodError(plugin, method string) error {
	return apierror.NotFound("plugin %q has no exported method %q", plugin, method)
}

// Instance is an opaque loaded plugin. Plugin business logic is out of
// scope for this core; instances may optionally implement MethodProvider,
// RouteMounter, AuthProviderAware, and/or TargetProvider to participate in
// the inter-plugin registry, the HTTP surface, auth-provider wiring, and
// the target graph, respectively.
type Instance any

// Method is an inter-plugin callable exported by a plugin instance.
type Method func(args ...any) (any, error)

// MethodProvider is implemented by plugin instances that export callable
// methods for other plugins (spec.md §4.E step 4).
type MethodProvider interface {
	ExportedMethods() map[string]Method
}

// RouteMounter is implemented by plugin instances that declare
// CapHTTPRoutes.
type RouteMounter interface {
	MountRoutes(mux *http.ServeMux)
}

// AuthProviderCallbacks is wired onto instances that declare
// CapAuthProvider (spec.md §4.E step 4).
type AuthProviderCallbacks struct {
	CreateAuthToken    func(userID string) (string, error)
	CreateRefreshToken func(userID string) (string, error)
	ValidateToken      func(token string) (*auth.Claims, error)
}

// AuthProviderAware is implemented by authentication-provider plugin
// instances to receive their wired callbacks.
type AuthProviderAware interface {
	SetAuthCallbacks(AuthProviderCallbacks)
}

// TargetProvider is implemented by plugin instances that supply callables
// for their lifecycle targets, including the default startup and shutdown.
type TargetProvider interface {
	TargetFunc(name string) (TargetFunc, bool)
}

// Factory instantiates a plugin instance. Real plugins register a Factory
// under their package_path via RegisterFactory, mirroring the static
// driver-registration convention used across the Go ecosystem (e.g.
// database/sql.Register) since this core performs no dynamic code loading.
type Factory func(cfg map[string]any, app *App, dataDir string) (Instance, error)

var (
	factoriesMu sync.Mutex
	factories   = make(map[string]Factory)
)

// RegisterFactory registers f as the constructor for plugins whose
// package_path is packagePath. Intended to be called from a plugin
// package's init().
func RegisterFactory(packagePath string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[packagePath] = f
}

func lookupFactory(packagePath string) (Factory, bool) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	f, ok := factories[packagePath]
	return f, ok
}

// App is the process-wide handle passed to every plugin instance and
// exposed to the inter-plugin call registry, instead of module-level
// singletons (spec.md §9 design note on global state).
type App struct {
	Bus      *eventbus.Bus
	Auth     *auth.Auth
	DataRoot string
	Mux      *http.ServeMux

	mu      sync.RWMutex
	methods map[string]map[string]Method
}

// NewApp constructs an App handle.
func NewApp(bus *eventbus.Bus, a *auth.Auth, dataRoot string, mux *http.ServeMux) *App {
	return &App{
		Bus:      bus,
		Auth:     a,
		DataRoot: dataRoot,
		Mux:      mux,
		methods:  make(map[string]map[string]Method),
	}
}

func (a *App) registerMethods(plugin string, m map[string]Method) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.methods[plugin] = m
}

// Call looks up (plugin, method) in the inter-plugin registry and invokes
// it on the caller's goroutine (spec.md §4.E "Inter-plugin call").
func (a *App) Call(pluginName, method string, args ...any) (any, error) {
	a.mu.RLock()
	methods, ok := a.methods[pluginName]
	if !ok {
		a.mu.RUnlock()
		return nil, unknownPluginError(pluginName)
	}
	fn, ok := methods[method]
	a.mu.RUnlock()
	if !ok {
		return nil, unknownMethodError(pluginName, method)
	}
	return fn(args...)
}

// PluginDataDir returns <data_root>/plugin_data/<name>.
func PluginDataDir(dataRoot, name string) string {
	return filepath.Join(dataRoot, "plugin_data", name)
}
