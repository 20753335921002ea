package plugin

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"
)

// Discover scans bundledDir and <dataRoot>/plugins for subdirectories
// containing a config.yaml, skipping any plugin named in
// <dataRoot>/plugins/disabled.txt (spec.md §4.E step 1).
func Discover(bundledDir, dataRoot string) ([]Descriptor, error) {
	disabled, err := loadDisabled(filepath.Join(dataRoot, "plugins", "disabled.txt"))
	if err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, dir := range []string{bundledDir, filepath.Join(dataRoot, "plugins")} {
		found, err := scanDir(dir, disabled)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func scanDir(dir string, disabled map[string]bool) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.ConvertSystemError(err)
	}

	var out []Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cfgPath := filepath.Join(dir, entry.Name(), "config.yaml")
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, trace.Wrap(err, "reading %s", cfgPath)
		}

		var d Descriptor
		if err := yaml.Unmarshal(b, &d); err != nil {
			return nil, trace.Wrap(err, "parsing %s", cfgPath)
		}
		if d.Name == "" {
			d.Name = entry.Name()
		}
		d.dir = filepath.Join(dir, entry.Name())

		if disabled[d.Name] {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// loadDisabled parses a disabled.txt: one plugin name per line, blank lines
// and '#' comments ignored.
func loadDisabled(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()

	names, err := ParseDisabled(f)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// ParseDisabled parses the disabled.txt format from r.
func ParseDisabled(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line != "" {
			names = append(names, line)
		}
	}
	return names, scanner.Err()
}
