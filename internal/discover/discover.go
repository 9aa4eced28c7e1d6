// Package discover locates candidate export files under target paths. It
// is the file-discovery collaborator in front of the ingestion pipeline:
// the pipeline itself performs no filtering and trusts the list it is
// handed.
package discover

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Find walks each target (a file or a directory) and returns the ordered
// list of absolute file paths whose base name contains at least one of the
// patterns. With no patterns, every regular file matches. Hidden files are
// skipped.
func Find(targets []string, patterns []string) ([]string, error) {
	var files []string

	for _, target := range targets {
		err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != target {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			if !matches(d.Name(), patterns) {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			files = append(files, abs)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

// matches reports whether a file name contains any pattern substring.
func matches(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
