package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocateMappingFile_CurrentDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	name := "mapping.txt"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("tcp 80 :8080\n"), 0o644))

	got, err := locateMappingFile(name)
	require.NoError(t, err)
	require.Equal(t, name, got)
}

func TestLocateMappingFile_NotFound(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	_, err = locateMappingFile("does-not-exist.txt")
	require.Error(t, err)
}
