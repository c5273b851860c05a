package importer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"gradebridge/internal/model"
)

type zipEntry struct {
	name string
	body string
	mode os.FileMode
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		h := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			h.SetMode(e.mode)
		}
		w, err := zw.CreateHeader(h)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func extractBytes(t *testing.T, data []byte, opts ExtractOptions) (*Workspace, error) {
	t.Helper()
	return Extract(bytes.NewReader(data), int64(len(data)), opts)
}

func TestExtract_RejectsTraversalAndNUL(t *testing.T) {
	parent := t.TempDir()
	data := buildZip(t,
		zipEntry{name: "Doe_John_jdoe_3/essay.txt", body: "essay"},
		zipEntry{name: "../../evil.txt", body: "evil"},
		zipEntry{name: "/abs.txt", body: "abs"},
		zipEntry{name: "bad\x00name.txt", body: "nul"},
		zipEntry{name: "../..", body: ""},
		zipEntry{name: "link", body: "/etc/passwd", mode: os.ModeSymlink | 0o777},
		zipEntry{name: "__MACOSX/Doe_John_jdoe_3/._essay.txt", body: "junk"},
	)

	ws, err := extractBytes(t, data, ExtractOptions{TempDir: parent})
	require.NoError(t, err)
	defer ws.Close()

	var paths []string
	for _, e := range ws.Entries {
		paths = append(paths, e.Path)
		require.True(t, filepath.IsAbs(e.AbsPath))
		rel, err := filepath.Rel(ws.Root(), e.AbsPath)
		require.NoError(t, err)
		require.NotContains(t, rel, "..")
	}
	require.Equal(t, []string{"Doe_John_jdoe_3/essay.txt", "abs.txt", "evil.txt"}, paths)

	_, err = os.Stat(filepath.Join(parent, "evil.txt"))
	require.True(t, os.IsNotExist(err), "nothing may be written outside the extraction root")
	_, err = os.Stat(filepath.Join(filepath.Dir(parent), "evil.txt"))
	require.True(t, os.IsNotExist(err))

	reasons := map[string]string{}
	for _, s := range ws.Skipped {
		reasons[s.Path] = s.Reason
	}
	require.Contains(t, reasons["bad\x00name.txt"], "security")
	require.Contains(t, reasons["../.."], "security")
	require.Contains(t, reasons["link"], "security")
	require.Equal(t, "system junk file", reasons["__MACOSX/Doe_John_jdoe_3/._essay.txt"])
	require.Len(t, ws.Warnings, 2)
}

func TestExtract_CloseRemovesWorkspace(t *testing.T) {
	data := buildZip(t, zipEntry{name: "a/b.txt", body: "x"})
	ws, err := extractBytes(t, data, ExtractOptions{TempDir: t.TempDir()})
	require.NoError(t, err)

	root := ws.Root()
	_, err = os.Stat(root)
	require.NoError(t, err)

	require.NoError(t, ws.Close())
	_, err = os.Stat(root)
	require.True(t, os.IsNotExist(err))
}

func TestExtract_ValidationErrors(t *testing.T) {
	_, err := extractBytes(t, []byte("definitely not a zip"), ExtractOptions{})
	require.True(t, model.IsValidation(err), "unexpected error: %v", err)

	_, err = extractBytes(t, buildZip(t), ExtractOptions{})
	require.True(t, model.IsValidation(err), "unexpected error: %v", err)

	_, err = extractBytes(t, buildZip(t,
		zipEntry{name: "a.txt", body: "1"},
		zipEntry{name: "b.txt", body: "2"},
	), ExtractOptions{MaxEntries: 1})
	require.True(t, model.IsValidation(err), "unexpected error: %v", err)
}

func TestExtract_SizeLimitRemovesWorkspace(t *testing.T) {
	parent := t.TempDir()
	data := buildZip(t, zipEntry{name: "big.bin", body: string(bytes.Repeat([]byte("a"), 4096))})

	_, err := extractBytes(t, data, ExtractOptions{TempDir: parent, MaxBytes: 1024})
	require.True(t, model.IsValidation(err), "unexpected error: %v", err)

	left, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Empty(t, left, "failed extraction must not leave a workspace behind")
}

func TestExtract_DuplicateEntryKeepsFirst(t *testing.T) {
	data := buildZip(t,
		zipEntry{name: "Doe_John_jdoe_3/essay.txt", body: "first"},
		zipEntry{name: "Doe_John_jdoe_3/essay.txt", body: "second"},
	)
	ws, err := extractBytes(t, data, ExtractOptions{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer ws.Close()

	require.Len(t, ws.Entries, 1)
	body, err := os.ReadFile(ws.Entries[0].AbsPath)
	require.NoError(t, err)
	require.Equal(t, "first", string(body))
}
