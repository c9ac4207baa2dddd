package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmpty_IsPermissive(t *testing.T) {
	cat := Empty()
	require.False(t, cat.Present())
	require.True(t, cat.IsKnown("anything"))
	e, ok := cat.Lookup("anything")
	require.True(t, ok)
	require.Equal(t, "anything", e.Name)
}

func TestLoad_MissingFileIsPermissive(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.False(t, cat.Present())
}

func TestLoad_KnownEntries(t *testing.T) {
	path := writeCatalogue(t, Entry{Name: "port-scanner", Image: "tools/port-scanner", Command: []string{"scan"}})
	cat, err := Load(path)
	require.NoError(t, err)
	require.True(t, cat.Present())
	require.True(t, cat.IsKnown("port-scanner"))
	require.False(t, cat.IsKnown("unlisted-tool"))

	e, ok := cat.Lookup("port-scanner")
	require.True(t, ok)
	require.Equal(t, "tools/port-scanner", e.Image)
}

func TestLoad_RejectsEntryWithoutName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"image":"x"}]`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestContainsForbidden_DefaultDenylist(t *testing.T) {
	cat := Empty()
	require.True(t, cat.ContainsForbidden("any-tool", "please rm -rf /data first"))
	require.False(t, cat.ContainsForbidden("any-tool", "scan --top-1000"))
}

func TestContainsForbidden_CatalogueForbiddenFlags(t *testing.T) {
	path := writeCatalogue(t, Entry{Name: "directory-bruteforce", Image: "x", ForbiddenFlags: []string{"--follow-redirects-unsafe"}})
	cat, err := Load(path)
	require.NoError(t, err)
	require.True(t, cat.ContainsForbidden("directory-bruteforce", "--follow-redirects-unsafe"))
	require.False(t, cat.ContainsForbidden("directory-bruteforce", "--threads 10"))
}

func TestValidateSchema_NoSchemaAlwaysPasses(t *testing.T) {
	cat := Empty()
	require.NoError(t, cat.ValidateSchema("anything", map[string]any{"x": 1}))
}

func TestValidateSchema_CompiledSchemaRejectsBadParams(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["target"],
		"properties": {"target": {"type": "string"}}
	}`)
	path := writeCatalogue(t, Entry{Name: "port-scanner", Image: "x", ParameterSchema: schema})
	cat, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cat.ValidateSchema("port-scanner", map[string]any{"target": "example.test"}))
	require.Error(t, cat.ValidateSchema("port-scanner", map[string]any{}))
}

func TestNames(t *testing.T) {
	path := writeCatalogue(t,
		Entry{Name: "port-scanner", Image: "x"},
		Entry{Name: "subdomain-scanner", Image: "y"},
	)
	cat, err := Load(path)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"port-scanner", "subdomain-scanner"}, cat.Names())
}

func writeCatalogue(t *testing.T, entries ...Entry) string {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "catalogue.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
