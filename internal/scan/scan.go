// Package scan implements the hash-and-walk scanner: a streaming
// walk of a root directory that applies ignore globs then an extension
// filter and yields a content hash per surviving file.
package scan

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultIgnoreDirs covers VCS metadata, dependency stores,
// build/output directories, coverage, and framework caches.
var DefaultIgnoreDirs = []string{
	".git", "node_modules", "vendor", "venv", "__pycache__",
	".next", ".nuxt", "dist", "build", "out", "target",
	".cache", ".parcel-cache", "coverage", ".nyc_output",
	".pytest_cache", ".tox", ".venv", "env", "__mocks__",
	".idea", ".vscode",
}

// DefaultIgnoreGlobs is the minimum default ignore set for test/spec files,
// applied against the path relative to rootPath.
var DefaultIgnoreGlobs = []string{
	"*_test.*", "*.test.*", "*.spec.*", "*/__tests__/*", "*/test/*", "*/tests/*",
}

// DefaultExtensions is the default include list: TS/JS/TSX/JSX/MJS/CJS
// plus Python variants.
var DefaultExtensions = []string{
	".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts",
	".py", ".pyi", ".pyw",
}

// FileEntry is one surviving file: its absolute path and truncated content
// hash.
type FileEntry struct {
	AbsolutePath string
	ContentHash  string
}

// Warning records a non-fatal per-file failure encountered while scanning.
type Warning struct {
	Path string
	Err  error
}

// Options configures a scan.
type Options struct {
	// Extensions is the include list; DefaultExtensions is used if empty.
	Extensions []string
	// IgnoreGlobs is appended to DefaultIgnoreGlobs; matched using
	// filepath.Match semantics against the path relative to rootPath and
	// against each of its suffixes that starts at a "/".
	IgnoreGlobs []string
}

// Scan walks rootPath and returns every surviving file's absolute path and
// content hash, in a stable deterministic order (lexicographic by relative
// path), plus any non-fatal per-file warnings.
//
// Memory policy: content is never materialized in full for the whole tree
// at once; each file is hashed via a buffered reader as it is visited.
func Scan(rootPath string, opts Options) ([]FileEntry, []Warning, error) {
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	ignoreGlobs := append(append([]string{}, DefaultIgnoreGlobs...), opts.IgnoreGlobs...)

	var paths []string
	walkErr := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directory entries are warnings, not fatal; skip
			// but keep walking siblings where possible.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != rootPath && shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			rel = path
		}
		if !hasExtension(path, extensions) {
			return nil
		}
		if matchesAnyGlob(rel, ignoreGlobs) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}

	sort.Strings(paths)

	entries := make([]FileEntry, 0, len(paths))
	var warnings []Warning
	for _, p := range paths {
		hash, err := hashFile(p)
		if err != nil {
			warnings = append(warnings, Warning{Path: p, Err: err})
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		entries = append(entries, FileEntry{AbsolutePath: abs, ContentHash: hash})
	}
	return entries, warnings, nil
}

func shouldSkipDir(name string) bool {
	for _, d := range DefaultIgnoreDirs {
		if name == d || strings.HasPrefix(name, d) {
			return true
		}
	}
	return false
}

func hasExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func matchesAnyGlob(relPath string, globs []string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, g := range globs {
		g = filepath.ToSlash(g)
		if ok, _ := filepath.Match(g, relPath); ok {
			return true
		}
		// Allow "*_test.*" and "*/segment/*" style globs to match anywhere
		// in the path by also trying every suffix that starts at a "/",
		// with and without that leading "/".
		for i := 0; i < len(relPath); i++ {
			if relPath[i] != '/' {
				continue
			}
			if ok, _ := filepath.Match(g, relPath[i+1:]); ok {
				return true
			}
			if ok, _ := filepath.Match(g, relPath[i:]); ok {
				return true
			}
		}
		if strings.Contains(g, "/") {
			if ok, _ := filepath.Match(g, "/"+relPath); ok {
				return true
			}
		}
	}
	return false
}

// hashFile computes the first 16 hex chars of SHA-256 over the raw byte
// content, reading through a buffered reader so the whole file is never
// required to be resident at once.
func hashFile(path string) (string, error) {
	return HashFile(path)
}

// HashFile is the exported form of the same content hash, reused by
// internal/ingest so a single file re-parsed outside a full Scan (e.g. the
// watcher's single-file ingest) hashes identically to one discovered by a
// directory walk.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	r := bufio.NewReaderSize(f, 64*1024)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16], nil
}
