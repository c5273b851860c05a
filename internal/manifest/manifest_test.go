package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gradebridge/internal/layout"
)

func TestManifest_EncodeParseRoundTrip(t *testing.T) {
	m := New()
	m.Add("Doe_John_jdoe_3/essay.txt", ComputeBytes([]byte("hello")), KindSubmission)
	m.Add(layout.StatusFileXLSX, ComputeBytes([]byte("xlsx")), KindStatusFile)

	data, err := m.Encode()
	require.NoError(t, err)
	require.Contains(t, string(data), `"type": "submission"`)
	require.Contains(t, string(data), `"sha256": "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"`)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, []string{"Doe_John_jdoe_3/essay.txt", layout.StatusFileXLSX}, parsed.Paths())

	changed, known := parsed.Changed("Doe_John_jdoe_3/essay.txt", ComputeBytes([]byte("hello")))
	require.True(t, known)
	require.False(t, changed)

	changed, known = parsed.Changed("Doe_John_jdoe_3/essay.txt", ComputeBytes([]byte("hello!")))
	require.True(t, known)
	require.True(t, changed)
}

func TestManifest_IgnoresUnknownFieldsAndFallsBackToMD5(t *testing.T) {
	raw := `{
  "a/b.txt": {"md5": "5d41402abc4b2a76b9719d911017c592", "size": 5, "type": "submission", "blake3": "ffff"},
  "c.txt": {"size": 1, "type": "submission"}
}`
	m, err := Parse([]byte(raw))
	require.NoError(t, err)

	changed, known := m.Changed("a/b.txt", ComputeBytes([]byte("hello")))
	require.True(t, known)
	require.False(t, changed)

	_, known = m.Changed("c.txt", ComputeBytes([]byte("x")))
	require.False(t, known, "record without digests cannot prove anything")

	_, known = m.Changed("missing.txt", ComputeBytes([]byte("x")))
	require.False(t, known)
}

func TestKey_Normalizes(t *testing.T) {
	require.Equal(t, "a/b.txt", Key("/a/b.txt"))
	require.Equal(t, "a/b.txt", Key(`a\b.txt`))
	require.Equal(t, "a/b.txt", Key("./a/./b.txt"))
}

func TestLoad_MissingManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir)
	require.NoError(t, err)
	require.Nil(t, m)
	require.Equal(t, 0, m.Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, layout.ManifestFile), []byte("{not json"), 0o644))
	_, err = Load(dir)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "parse manifest"))
}
