// Package files is the byte provider behind the server: existence, size and content of a target.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// ErrNotRegular is returned for directories, sockets and other non-files.
var ErrNotRegular = errors.New("not a regular file")

// Store is what the responder needs from the filesystem.
type Store interface {
	Exists(name string) bool
	Length(name string) (int64, error)
	ReadAll(name string) ([]byte, error)
}

// Dir serves regular files below a root directory.
// Names are request targets ("/a/b.html"), they can't climb out of the root.
type Dir struct {
	root string
}

// NewDir checks that root is a directory.
func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string {
	return d.root
}

// resolve target against root, ".." above "/" is dropped by Clean
func (d *Dir) resolve(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(path.Clean("/"+name)))
}

func (d *Dir) stat(name string) (fs.FileInfo, error) {
	info, err := os.Stat(d.resolve(name))
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", name, ErrNotRegular)
	}
	return info, nil
}

// Exists is true only for regular files.
func (d *Dir) Exists(name string) bool {
	_, err := d.stat(name)
	return err == nil
}

func (d *Dir) Length(name string) (int64, error) {
	info, err := d.stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *Dir) ReadAll(name string) ([]byte, error) {
	if _, err := d.stat(name); err != nil {
		return nil, err
	}
	return os.ReadFile(d.resolve(name))
}
