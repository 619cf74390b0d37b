package indexer

import (
	"os"
	"path/filepath"

	"github.com/coderisk/reviewcore/internal/parser"
)

// denyDirs lists directories pruned from every walk, regardless of
// registered parsers — vendored/generated/VCS trees never hold symbols
// worth indexing.
var denyDirs = []string{
	".git",
	"node_modules",
	"vendor",
	"venv",
	".venv",
	"__pycache__",
	".next",
	".nuxt",
	"dist",
	"build",
	"out",
	"target",
	".cache",
	"coverage",
	".idea",
	".vscode",
}

func shouldSkipDir(name string) bool {
	for _, d := range denyDirs {
		if name == d {
			return true
		}
	}
	return false
}

// WalkSourceFiles walks root and streams the path of every file whose
// extension is registered with reg, pruning deny-listed directories
// along the way.
func WalkSourceFiles(root string, reg *parser.Registry) (<-chan string, error) {
	files := make(chan string, 100)

	known := make(map[string]struct{})
	for _, ext := range reg.KnownExtensions() {
		known[ext] = struct{}{}
	}

	go func() {
		defer close(files)
		filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if shouldSkipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := known[filepath.Ext(path)]; ok {
				files <- path
			}
			return nil
		})
	}()

	return files, nil
}
