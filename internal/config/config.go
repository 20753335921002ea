// Package config implements the platform's layered key lookup: environment
// variable, then user override file, then packaged default file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"
)

// DataRoot resolves the platform-specific data root, honoring the
// SATOP_DATA_ROOT override.
func DataRoot() (string, error) {
	if v := os.Getenv("SATOP_DATA_ROOT"); v != "" {
		return v, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", trace.Wrap(err, "resolving home directory")
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "SatOP"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "SatOP"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "SatOP"), nil
	default:
		return filepath.Join(home, ".local", "share", "SatOP"), nil
	}
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// envKey builds SATOP_<CONFIG>__<KEYPATH> per spec.md §4.B: dots become
// double underscores, everything else non-alphanumeric is stripped, the
// whole thing is upper-cased.
func envKey(name string, keyPath []string) string {
	parts := make([]string, 0, len(keyPath)+1)
	parts = append(parts, nonAlnum.ReplaceAllString(name, ""))
	for _, k := range keyPath {
		parts = append(parts, nonAlnum.ReplaceAllString(k, ""))
	}
	joined := strings.Join(parts, "__")
	return "SATOP_" + strings.ToUpper(joined)
}

// Source is a named config document resolved across three layers: the
// environment, the user file, and the default file (each file as a generic
// YAML tree).
type Source struct {
	name       string
	userPath   string
	defaultDir string

	userDoc    map[string]any
	defaultDoc map[string]any
}

// New loads the user and default documents for a config named `name`
// (e.g. "satop" -> satop.yaml). defaultDir is the directory packaged with
// the binary; userDir is normally <data_root>/config.
func New(name, userDir, defaultDir string) (*Source, error) {
	s := &Source{name: name}

	userPath, userDoc, err := loadFirstOf(userDir, name)
	if err != nil {
		return nil, trace.Wrap(err, "loading user config %q", name)
	}
	s.userPath = userPath
	s.userDoc = userDoc

	_, defaultDoc, err := loadFirstOf(defaultDir, name)
	if err != nil {
		return nil, trace.Wrap(err, "loading default config %q", name)
	}
	s.defaultDoc = defaultDoc
	s.defaultDir = defaultDir

	return s, nil
}

func loadFirstOf(dir, name string) (string, map[string]any, error) {
	if dir == "" {
		return "", nil, nil
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", nil, trace.ConvertSystemError(err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return "", nil, trace.Wrap(err, "parsing %s", path)
		}
		return path, doc, nil
	}
	return "", nil, nil
}

// Get resolves keyPath (e.g. "database", "path") against env, then user
// file, then default file, returning the first non-nil value found.
func (s *Source) Get(keyPath ...string) (any, bool) {
	if v, ok := os.LookupEnv(envKey(s.name, keyPath)); ok {
		return v, true
	}
	if v, ok := lookup(s.userDoc, keyPath); ok && v != nil {
		return v, true
	}
	if v, ok := lookup(s.defaultDoc, keyPath); ok && v != nil {
		return v, true
	}
	return nil, false
}

// GetString is Get with a string default and coercion.
func (s *Source) GetString(def string, keyPath ...string) string {
	v, ok := s.Get(keyPath...)
	if !ok {
		return def
	}
	return fmt.Sprintf("%v", v)
}

func lookup(doc map[string]any, keyPath []string) (any, bool) {
	if doc == nil || len(keyPath) == 0 {
		return nil, false
	}
	var cur any = doc
	for _, key := range keyPath {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
