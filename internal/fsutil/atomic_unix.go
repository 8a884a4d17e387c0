//go:build !windows

package fsutil

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile uses renameio on Unix systems.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
