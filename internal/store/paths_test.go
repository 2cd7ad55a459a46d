package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenProjectLayout(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	p, err := OpenProject(root)
	require.NoError(t, err)

	assert.Equal(t, root, p.Root)
	assert.DirExists(t, p.DataDir)
	assert.True(t, strings.HasPrefix(p.MetadataPath(), p.DataDir))
	assert.True(t, strings.HasPrefix(p.VectorPath(), p.DataDir))
}

func TestOpenProjectIsStablePerRoot(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	rootA := t.TempDir()
	rootB := t.TempDir()

	p1, err := OpenProject(rootA)
	require.NoError(t, err)
	p2, err := OpenProject(rootA)
	require.NoError(t, err)
	p3, err := OpenProject(rootB)
	require.NoError(t, err)

	assert.Equal(t, p1.DataDir, p2.DataDir)
	assert.NotEqual(t, p1.DataDir, p3.DataDir)
}

func TestProjectLock(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	p1, err := OpenProject(root)
	require.NoError(t, err)

	got, err := p1.TryLock()
	require.NoError(t, err)
	require.True(t, got)
	defer func() { _ = p1.Unlock() }()

	require.NoError(t, p1.Unlock())
	got, err = p1.TryLock()
	require.NoError(t, err)
	assert.True(t, got, "lock is reacquirable after release")
}
