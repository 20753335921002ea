package plugin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePluginDir(t *testing.T, root, name, configYAML string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644))
}

func TestDiscoverSkipsDisabledPlugins(t *testing.T) {
	bundled := t.TempDir()
	dataRoot := t.TempDir()

	writePluginDir(t, bundled, "alpha", "name: alpha\npackage_path: pkg/alpha\n")
	writePluginDir(t, bundled, "beta", "name: beta\npackage_path: pkg/beta\n")

	require.NoError(t, os.MkdirAll(filepath.Join(dataRoot, "plugins"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "plugins", "disabled.txt"),
		[]byte("# disabled plugins\nbeta\n"), 0o644))

	descs, err := Discover(bundled, dataRoot)
	require.NoError(t, err)

	var got []string
	for _, d := range descs {
		got = append(got, d.Name)
	}
	require.Equal(t, []string{"alpha"}, got)
}

func TestParseDisabledIgnoresCommentsAndBlankLines(t *testing.T) {
	r := strings.NewReader("# header\n\nfoo\nbar # trailing comment\n")
	names, err := ParseDisabled(r)
	require.NoError(t, err)
	require.Equal(t, []string{"foo", "bar"}, names)
}
