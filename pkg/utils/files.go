// Package utils has small path helpers shared by the command-line tools.
package utils

import (
	"path/filepath"
	"strings"
)

// GetPathInfo resolves relPath to an absolute path and the directory holding it.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	return fullPath, filepath.Dir(fullPath), nil
}

// StorageFor is the default virtual disk directory for a program: a
// "<name>_vfs" directory beside the source file.
func StorageFor(fullPath string) string {
	base := filepath.Base(fullPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(fullPath), name+"_vfs")
}
