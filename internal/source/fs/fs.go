package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"marketpipe/internal/source"
)

// Tree reads source units from a local directory, recursively. A subtree
// named excludeDir (the partition cache, when it lives under the same
// root) is skipped entirely.
type Tree struct {
	root       string
	excludeDir string
}

var _ source.Tree = (*Tree)(nil)

func New(root, excludeDir string) *Tree {
	return &Tree{root: root, excludeDir: excludeDir}
}

func (t *Tree) List(ctx context.Context) ([]source.File, error) {
	var files []source.File
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if t.excludeDir != "" && d.Name() == t.excludeDir && path != t.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".csv") {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		files = append(files, source.File{ID: rel, Name: d.Name()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source root %s: %w", t.root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func (t *Tree) Fetch(_ context.Context, id string) (string, error) {
	data, err := os.ReadFile(filepath.Join(t.root, id))
	if err != nil {
		return "", fmt.Errorf("read source file %s: %w", id, err)
	}
	return string(data), nil
}
