package index

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// computeGitignoreHash hashes every .gitignore file under root, skipping
// hidden directories, node_modules and vendor (path sorted,
// "path:content" per file) so the caller can detect whether ignore rules
// changed since the last run without re-walking the whole tree to compare
// file lists. Adapted from the teacher's ComputeGitignoreHash.
func computeGitignoreHash(root string) (string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && (name[0] == '.' || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ".gitignore" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(root, p)
		h.Write([]byte(rel))
		h.Write([]byte(":"))
		h.Write(content)
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// detectDeletions returns every file-hash-map entry that has no matching
// entry in current, i.e. files that were indexed previously but no longer
// exist (or were gitignored away) on disk.
func detectDeletions(storedFiles []string, current map[string]bool) []string {
	var deleted []string
	for _, f := range storedFiles {
		if !current[f] {
			deleted = append(deleted, f)
		}
	}
	sort.Strings(deleted)
	return deleted
}
