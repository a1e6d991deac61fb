package change

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kgraph/kgraph/internal/scan"
	"github.com/stretchr/testify/require"
)

func TestDetectRenameInference(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ts"), []byte("export function bar() {}"), 0o644))

	// Establish the stored baseline: a.ts (to be renamed away) and b.ts
	// (unchanged).
	bHash := fileHash(t, dir, "b.ts")
	stored := []StoredFile{
		{Path: filepath.Join(dir, "a.ts"), Hash: "deadbeefcafebabe"},
		{Path: filepath.Join(dir, "b.ts"), Hash: bHash},
	}
	// Simulate: a.ts moved to lib/a.ts with identical content, producing
	// the same hash as the stored a.ts entry.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "a.ts"), []byte("RENAME_PAYLOAD"), 0o644))
	newHash := fileHash(t, dir, "lib/a.ts")
	stored[0].Hash = newHash

	summary, _, err := Detect(dir, stored, Options{DetectRenames: true})
	require.NoError(t, err)

	require.Equal(t, 1, summary.Renamed)
	require.Equal(t, 1, summary.Unchanged)
	require.Equal(t, 0, summary.Added)
	require.Equal(t, 0, summary.Deleted)

	var renamed FileChange
	for _, c := range summary.Changes {
		if c.Type == Renamed {
			renamed = c
		}
	}
	require.Equal(t, filepath.Join(dir, "a.ts"), renamed.OldPath)
	require.Equal(t, filepath.Join(dir, "lib", "a.ts"), renamed.NewPath)
}

func TestDetectAddedModifiedDeleted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.ts"), []byte("v2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.ts"), []byte("new"), 0o644))

	stored := []StoredFile{
		{Path: filepath.Join(dir, "existing.ts"), Hash: "0000000000000000"},
		{Path: filepath.Join(dir, "gone.ts"), Hash: "1111111111111111"},
	}

	summary, _, err := Detect(dir, stored, Options{DetectRenames: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Added)
	require.Equal(t, 1, summary.Modified)
	require.Equal(t, 1, summary.Deleted)
	require.Equal(t, 0, summary.Renamed)
}

func TestDetectTwoDistinctRenamesNeverCross(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.ts"), []byte("same-content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.ts"), []byte("same-content"), 0o644))
	hash := fileHash(t, dir, "x.ts")

	stored := []StoredFile{
		{Path: filepath.Join(dir, "old1.ts"), Hash: hash},
		{Path: filepath.Join(dir, "old2.ts"), Hash: hash},
	}

	summary, _, err := Detect(dir, stored, Options{DetectRenames: true})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Renamed)
	require.Equal(t, 0, summary.Added)
	require.Equal(t, 0, summary.Deleted)

	seen := map[string]bool{}
	for _, c := range summary.Changes {
		if c.Type == Renamed {
			require.False(t, seen[c.OldPath], "each old path must map to exactly one rename")
			seen[c.OldPath] = true
		}
	}
}

func fileHash(t *testing.T, dir, rel string) string {
	t.Helper()
	entries, warnings, err := scan.Scan(dir, scan.Options{})
	require.NoError(t, err)
	require.Empty(t, warnings)
	target, err := filepath.Abs(filepath.Join(dir, rel))
	require.NoError(t, err)
	for _, e := range entries {
		if e.AbsolutePath == target {
			return e.ContentHash
		}
	}
	t.Fatalf("file %s not found by scanner", rel)
	return ""
}
