package statusfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gradebridge/internal/manifest"
)

func writeRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	return root
}

func issued(xlsx, csv string) *manifest.Manifest {
	m := manifest.New()
	m.Add("status.xlsx", manifest.ComputeBytes([]byte(xlsx)), manifest.KindStatusFile)
	m.Add("status.csv", manifest.ComputeBytes([]byte(csv)), manifest.KindStatusFile)
	return m
}

func TestSelect_BothChangedPrefersPrimaryWithConflict(t *testing.T) {
	t.Parallel()
	root := writeRoot(t, map[string]string{"status.xlsx": "A2", "status.csv": "B2"})

	sel, err := Select(root, issued("A1", "B1"))
	require.NoError(t, err)
	require.NotNil(t, sel)
	require.Equal(t, FormatXLSX, sel.Format)
	require.Contains(t, sel.Conflict, "status.xlsx")
	require.Contains(t, sel.Conflict, "status.csv")
}

func TestSelect_OnlySecondaryChanged(t *testing.T) {
	t.Parallel()
	root := writeRoot(t, map[string]string{"status.xlsx": "A1", "status.csv": "B2"})

	sel, err := Select(root, issued("A1", "B1"))
	require.NoError(t, err)
	require.Equal(t, FormatCSV, sel.Format)
	require.True(t, sel.Changed)
	require.Empty(t, sel.Conflict)
}

func TestSelect_NeitherChangedOrNoManifest(t *testing.T) {
	t.Parallel()
	root := writeRoot(t, map[string]string{"status.xlsx": "A1", "status.csv": "B1"})

	sel, err := Select(root, issued("A1", "B1"))
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, sel.Format)
	require.False(t, sel.Changed)

	sel, err = Select(root, nil)
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, sel.Format)
}

func TestSelect_FallsBackToPresentFile(t *testing.T) {
	t.Parallel()

	root := writeRoot(t, map[string]string{"status.csv": "B1"})
	sel, err := Select(root, nil)
	require.NoError(t, err)
	require.Equal(t, FormatCSV, sel.Format)

	root = writeRoot(t, map[string]string{"notes.txt": "x"})
	sel, err = Select(root, nil)
	require.NoError(t, err)
	require.Nil(t, sel)
}
