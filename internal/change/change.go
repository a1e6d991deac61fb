// Package change implements the change detector: diffing the current
// filesystem state (as produced by internal/scan) against a persisted
// file-hash set, classifying each path, and inferring renames by hash
// match. Rename inference is pure content-hash matching; no VCS history
// is consulted.
package change

import (
	"sort"

	"github.com/kgraph/kgraph/internal/scan"
)

// ChangeType enumerates how a path's state changed since the last stored
// snapshot.
type ChangeType string

const (
	Added     ChangeType = "added"
	Modified  ChangeType = "modified"
	Deleted   ChangeType = "deleted"
	Renamed   ChangeType = "renamed"
	Unchanged ChangeType = "unchanged"
)

// StoredFile is one entry of the persisted file-hash set, keyed by path.
type StoredFile struct {
	Path string
	Hash string
}

// FileChange describes one path's classification.
type FileChange struct {
	Path         string
	Type         ChangeType
	Hash         string
	PreviousHash string
	OldPath      string
	NewPath      string
}

// ChangeSummary is the Change Detector's full result.
type ChangeSummary struct {
	Added     int
	Modified  int
	Deleted   int
	Renamed   int
	Unchanged int
	Changes   []FileChange
}

// Options tunes the Change Detector.
type Options struct {
	scan.Options
	// DetectRenames enables hash-match rename inference between tentative
	// deletes and tentative adds. Detect skips rename inference when this
	// is false, which is the zero value.
	DetectRenames bool
}

// Detect scans for current filesystem state, then classifies every
// path against storedFiles, performing rename inference when
// opts.DetectRenames is set.
func Detect(rootPath string, storedFiles []StoredFile, opts Options) (ChangeSummary, []scan.Warning, error) {
	current, warnings, err := scan.Scan(rootPath, opts.Options)
	if err != nil {
		return ChangeSummary{}, nil, err
	}

	storedByPath := make(map[string]string, len(storedFiles))
	for _, sf := range storedFiles {
		storedByPath[sf.Path] = sf.Hash
	}
	currentByPath := make(map[string]string, len(current))
	for _, fe := range current {
		currentByPath[fe.AbsolutePath] = fe.ContentHash
	}

	var tentativeAdds []string
	var tentativeDeletes []string
	changesByPath := make(map[string]FileChange)

	// Deterministic order: sort both path sets before iterating.
	var currentPaths []string
	for p := range currentByPath {
		currentPaths = append(currentPaths, p)
	}
	sort.Strings(currentPaths)

	for _, p := range currentPaths {
		newHash := currentByPath[p]
		oldHash, existed := storedByPath[p]
		switch {
		case !existed:
			tentativeAdds = append(tentativeAdds, p)
		case oldHash == newHash:
			changesByPath[p] = FileChange{Path: p, Type: Unchanged, Hash: newHash}
		default:
			changesByPath[p] = FileChange{Path: p, Type: Modified, Hash: newHash, PreviousHash: oldHash}
		}
	}

	var storedPaths []string
	for p := range storedByPath {
		storedPaths = append(storedPaths, p)
	}
	sort.Strings(storedPaths)

	for _, p := range storedPaths {
		if _, stillPresent := currentByPath[p]; !stillPresent {
			tentativeDeletes = append(tentativeDeletes, p)
		}
	}

	var usedDeletes map[string]bool
	if opts.DetectRenames {
		usedDeletes = matchRenames(tentativeAdds, tentativeDeletes, storedByPath, currentByPath, changesByPath)
	}

	// Any tentative add not consumed by a rename match becomes a plain
	// added entry. Tentative deletes consumed by a rename are fully
	// absorbed into the single renamed entry and produce no entry of
	// their own; unconsumed ones become plain deleted entries.
	for _, p := range tentativeAdds {
		if _, done := changesByPath[p]; done {
			continue
		}
		changesByPath[p] = FileChange{Path: p, Type: Added, Hash: currentByPath[p]}
	}
	for _, p := range tentativeDeletes {
		if usedDeletes[p] {
			continue
		}
		changesByPath[p] = FileChange{Path: p, Type: Deleted, PreviousHash: storedByPath[p]}
	}

	var keys []string
	for k := range changesByPath {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	summary := ChangeSummary{}
	for _, k := range keys {
		c := changesByPath[k]
		summary.Changes = append(summary.Changes, c)
		switch c.Type {
		case Added:
			summary.Added++
		case Modified:
			summary.Modified++
		case Deleted:
			summary.Deleted++
		case Renamed:
			summary.Renamed++
		case Unchanged:
			summary.Unchanged++
		}
	}
	return summary, warnings, nil
}

// matchRenames pairs tentative deletes to tentative adds with identical
// hashes, first-unused-pair, in deterministic (sorted path) iteration
// order. Each match produces exactly one FileChange (keyed and surfaced
// under the new path, carrying both OldPath and NewPath) — the old path is
// fully absorbed and never separately counted as a deletion. Returns the
// set of delete paths consumed by a match, so the caller can skip them
// when classifying leftover tentative deletes.
func matchRenames(adds, deletes []string, storedByPath, currentByPath map[string]string, out map[string]FileChange) map[string]bool {
	usedDeletes := make(map[string]bool, len(deletes))

	for _, addPath := range adds {
		addHash := currentByPath[addPath]
		var matchedDelete string
		for _, delPath := range deletes {
			if usedDeletes[delPath] {
				continue
			}
			if storedByPath[delPath] == addHash {
				matchedDelete = delPath
				break
			}
		}
		if matchedDelete == "" {
			continue
		}
		usedDeletes[matchedDelete] = true
		out[addPath] = FileChange{
			Path:    addPath,
			Type:    Renamed,
			Hash:    addHash,
			OldPath: matchedDelete,
			NewPath: addPath,
		}
	}
	return usedDeletes
}
