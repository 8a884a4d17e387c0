package fsutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadFileScoped reads a file by opening a root at the file's directory.
// This scopes access to the intended directory and avoids path traversal.
func ReadFileScoped(path string) ([]byte, error) {
	f, closeFn, err := OpenScoped(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return io.ReadAll(f)
}

// OpenScoped opens path for reading through an os.Root at its directory.
// The returned close function releases both the file and the root.
func OpenScoped(path string) (*os.File, func(), error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, nil, err
	}
	file, err := root.Open(base)
	if err != nil {
		_ = root.Close()
		return nil, nil, err
	}
	return file, func() {
		_ = file.Close()
		_ = root.Close()
	}, nil
}

// Exists reports whether path exists and is a regular, non-empty file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// WriteFileAtomic writes data to path atomically, creating parent directories.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return atomicWriteFile(path, data, perm)
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o600)
}
