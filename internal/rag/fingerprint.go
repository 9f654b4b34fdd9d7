package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"rag-chat/internal/parser"
)

// Fingerprint identifies an index build: the knowledge file bytes, the chunk
// parameters and the embedding model. Any change produces a new value.
func Fingerprint(path string, p parser.ChunkParams, embeddingModel string) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "size=%d overlap=%d seps=%q model=%s\n", p.ChunkSize, p.ChunkOverlap, p.Separators, embeddingModel)

	files, err := knowledgeFiles(path)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if err := hashFile(h, path, f); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}

func knowledgeFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && parser.Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func hashFile(w io.Writer, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintf(w, "file=%s\n", filepath.ToSlash(rel))
	_, err = io.Copy(w, f)
	return err
}
