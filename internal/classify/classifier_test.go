package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gradebridge/internal/manifest"
)

func writeCandidate(t *testing.T, root, rel, body string) Candidate {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(body), 0o644))
	return Candidate{Path: rel, AbsPath: abs}
}

func TestClassify_UnchangedModifiedAndNew(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	m := manifest.New()
	m.Add("Doe_John_jdoe_3/essay.txt", manifest.ComputeBytes([]byte("original")), manifest.KindSubmission)
	m.Add("Doe_John_jdoe_3/notes.txt", manifest.ComputeBytes([]byte("notes")), manifest.KindSubmission)

	cands := []Candidate{
		writeCandidate(t, root, "Doe_John_jdoe_3/essay.txt", "original with comments"),
		writeCandidate(t, root, "Doe_John_jdoe_3/notes.txt", "notes"),
		writeCandidate(t, root, "Doe_John_jdoe_3/review.pdf", "%PDF"),
	}

	files, errs := New(m, PolicyUnchanged).Classify(cands, []string{"essay.txt", "notes.txt"})
	require.Empty(t, errs)
	require.Len(t, files, 3)

	require.Equal(t, KindModified, files[0].Kind)
	require.Equal(t, "essay_modified.txt", files[0].Name)
	require.Equal(t, "Doe_John_jdoe_3/essay_modified.txt", files[0].Path)
	require.True(t, files[0].Renamed())
	_, err := os.Stat(filepath.Join(root, "Doe_John_jdoe_3", "essay_modified.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "Doe_John_jdoe_3", "essay.txt"))
	require.True(t, os.IsNotExist(err))

	require.Equal(t, KindUnchanged, files[1].Kind)
	require.False(t, files[1].Renamed())

	require.Equal(t, KindNewFeedback, files[2].Kind)
	require.Empty(t, files[2].Matched)
}

func TestClassify_ModifiedNameCollision(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	m := manifest.New()
	m.Add("Doe_John_jdoe_3/essay.txt", manifest.ComputeBytes([]byte("v1")), manifest.KindSubmission)

	cands := []Candidate{
		writeCandidate(t, root, "Doe_John_jdoe_3/essay.txt", "v2"),
		writeCandidate(t, root, "Doe_John_jdoe_3/essay_modified.txt", "grader copy"),
	}

	files, errs := New(m, PolicyUnchanged).Classify(cands, []string{"essay.txt"})
	require.Empty(t, errs)
	require.Len(t, files, 2)
	require.Equal(t, KindModified, files[0].Kind)
	require.Equal(t, "essay_modified_2.txt", files[0].Name)
	require.Equal(t, KindNewFeedback, files[1].Kind)
}

func TestClassify_TimestampPrefixedName(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	m := manifest.New()
	m.Add("Doe_John_jdoe_3/20240131_120501_essay.txt", manifest.ComputeBytes([]byte("same")), manifest.KindSubmission)

	cands := []Candidate{writeCandidate(t, root, "Doe_John_jdoe_3/20240131_120501_essay.txt", "same")}
	files, errs := New(m, PolicyUnchanged).Classify(cands, []string{"essay.txt"})
	require.Empty(t, errs)
	require.Equal(t, KindUnchanged, files[0].Kind)
	require.Equal(t, "essay.txt", files[0].Matched)
}

func TestClassify_WithoutManifestEverythingIsFeedback(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	cands := []Candidate{writeCandidate(t, root, "Doe_John_jdoe_3/essay.txt", "anything")}
	c := New(nil, PolicyUnchanged)
	require.False(t, c.HasManifest())

	files, errs := c.Classify(cands, []string{"essay.txt"})
	require.Empty(t, errs)
	require.Equal(t, KindNewFeedback, files[0].Kind)
	require.Equal(t, "essay.txt", files[0].Name)
}

func TestClassify_UnverifiablePolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		policy Policy
		want   Kind
	}{
		{PolicyUnchanged, KindUnchanged},
		{PolicyFeedback, KindNewFeedback},
	}
	for _, tc := range cases {
		root := t.TempDir()
		// 清单存在，但不包含这个文件
		m := manifest.New()
		m.Add("other.txt", manifest.ComputeBytes([]byte("x")), manifest.KindSubmission)

		cands := []Candidate{writeCandidate(t, root, "Doe_John_jdoe_3/essay.txt", "x")}
		files, errs := New(m, tc.policy).Classify(cands, []string{"essay.txt"})
		require.Empty(t, errs)
		require.Equal(t, tc.want, files[0].Kind, "policy %s", tc.policy)
	}
}

func TestClassify_UnreadableFileReportsError(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	cands := []Candidate{{Path: "Doe_John_jdoe_3/gone.txt", AbsPath: filepath.Join(root, "gone.txt")}}
	files, errs := New(manifest.New(), PolicyUnchanged).Classify(cands, nil)
	require.Empty(t, files)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "Doe_John_jdoe_3/gone.txt")
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	require.Equal(t, PolicyFeedback, ParsePolicy("feedback"))
	require.Equal(t, PolicyUnchanged, ParsePolicy("unchanged"))
	require.Equal(t, PolicyUnchanged, ParsePolicy(""))
	require.Equal(t, PolicyUnchanged, ParsePolicy("bogus"))
}
