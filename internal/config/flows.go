package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sonilabs/soni/internal/dsl"
)

// ResolveFlowPaths expands the configured glob patterns into a sorted,
// deduplicated list of flow document paths. Relative patterns are resolved
// against baseDir, which is the config file's directory (or the working
// directory when no config file exists).
func ResolveFlowPaths(baseDir string, patterns []string) ([]string, error) {
	seen := map[string]struct{}{}
	var paths []string
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("flow pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadFlowDocument parses every flow file and merges them into one document.
func LoadFlowDocument(paths []string) (*dsl.Document, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no flow documents found")
	}
	docs := make([]*dsl.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := dsl.ParseFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return dsl.Merge(docs...)
}
