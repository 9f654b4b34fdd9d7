package dictionary

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"rag-chat/internal/helper"
)

// WriteFile generates the dictionary into a temporary file next to path and
// moves it over path only once every table was written. On any error the
// existing file is left untouched.
func (g *Generator) WriteFile(ctx context.Context, path, dbName string) (stats Stats, err error) {
	dir := filepath.Dir(path)
	if err := helper.CreateFolder(dir); err != nil {
		return stats, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return stats, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if stats, err = g.Generate(ctx, w, dbName); err != nil {
		return stats, err
	}
	if err = w.Flush(); err != nil {
		return stats, fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return stats, fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return stats, fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return stats, fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return stats, nil
}
