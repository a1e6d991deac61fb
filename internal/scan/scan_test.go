package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanHashStability(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("export function foo() {}"), 0o644))

	entries1, warnings1, err := Scan(dir, Options{})
	require.NoError(t, err)
	require.Empty(t, warnings1)
	require.Len(t, entries1, 1)

	entries2, _, err := Scan(dir, Options{})
	require.NoError(t, err)
	require.Equal(t, entries1[0].ContentHash, entries2[0].ContentHash)
	require.Len(t, entries1[0].ContentHash, 16)
}

func TestScanDistinctContentDistinctHash(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("export function foo() {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ts"), []byte("export function bar() {}"), 0o644))

	entries, _, err := Scan(dir, Options{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotEqual(t, entries[0].ContentHash, entries[1].ContentHash)
}

func TestScanIgnoresDefaultDirsAndExtensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "lib.ts"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_test.ts"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.ts"), []byte("x"), 0o644))

	entries, _, err := Scan(dir, Options{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "keep.ts", filepath.Base(entries[0].AbsolutePath))
}

func TestScanOrderIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"z.ts", "a.ts", "m.ts"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	entries, _, err := Scan(dir, Options{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "a.ts", filepath.Base(entries[0].AbsolutePath))
	require.Equal(t, "m.ts", filepath.Base(entries[1].AbsolutePath))
	require.Equal(t, "z.ts", filepath.Base(entries[2].AbsolutePath))
}
