package toolexecutor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewManifestStore(dir)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Manifests = store
	te := New(cfg)

	d := tool("fetch")
	d.Version = "1.0.0"
	d.Timeout = 5 * time.Second
	d.MaxRetries = Retries(0)
	d.Parameters = []ToolParameter{{Name: "url", Type: "string", Required: true}}
	require.NoError(t, te.Register(d))
	require.NoError(t, te.Register(tool("parse", "fetch")))

	_, err = os.Stat(filepath.Join(dir, "fetch.json"))
	require.NoError(t, err)

	m, err := store.Get("fetch")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, "5s", m.Timeout)
	assert.Len(t, m.Parameters, 1)
	require.NotNil(t, m.MaxRetries)
	assert.Equal(t, 0, *m.MaxRetries)

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fetch", all[0].Name)
	assert.Equal(t, []string{"fetch"}, all[1].Dependencies)
	assert.Nil(t, all[1].MaxRetries)

	require.NoError(t, te.Unregister("parse"))
	_, err = store.Get("parse")
	assert.ErrorIs(t, err, ErrToolNotFound)
}
