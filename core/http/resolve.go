package http

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a target maps to no regular file.
var ErrNotFound = errors.New("target not found")

// DefaultIndexFiles are probed, in order, when a target names a directory.
var DefaultIndexFiles = []string{"index.htm", "index.html"}

// StatFunc reports file metadata, as os.Stat does.
type StatFunc func(name string) (fs.FileInfo, error)

// Resolve maps a request target to a file below root. The query string is
// dropped and the path is cleaned so it cannot climb above root. A directory
// resolves to the first of indexFiles that is a regular file.
func Resolve(root, target string, indexFiles []string, stat StatFunc) (string, error) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	if target == "" || target[0] != '/' {
		return "", ErrTarget
	}

	name := filepath.Join(root, filepath.FromSlash(path.Clean(target)))

	info, err := stat(name)
	if err != nil {
		return "", ErrNotFound
	}
	if info.Mode().IsRegular() {
		return name, nil
	}
	if !info.IsDir() {
		return "", ErrNotFound
	}

	for _, index := range indexFiles {
		candidate := filepath.Join(name, index)
		if info, err := stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", ErrNotFound
}
