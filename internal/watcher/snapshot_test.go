package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/droidpipe/agent/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitFileOnly(filepath.Join(os.TempDir(), "droidpipe-watcher-test.log"))
	os.Exit(m.Run())
}

func TestSnapshot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.bin"), []byte("abc"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.bin"), []byte("defgh"), 0644))

	snap, err := Snapshot("agent-1", root)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", snap.AgentID)
	assert.Equal(t, 2, snap.Directory.TotalFiles)
	assert.Equal(t, int64(8), snap.Directory.TotalSize)

	byPath := map[string]string{}
	for _, f := range snap.Directory.Files {
		byPath[f.Path] = f.Type
	}
	assert.Equal(t, "file", byPath["a.bin"])
	assert.Equal(t, "directory", byPath["sub"])
	assert.Equal(t, "file", byPath[filepath.Join("sub", "b.bin")])
}

func TestSnapshotMissingRoot(t *testing.T) {
	// Walk reports the root access error through the callback, which logs
	// and skips, so the snapshot comes back empty rather than failing.
	snap, err := Snapshot("agent-1", filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Zero(t, snap.Directory.TotalFiles)
}
