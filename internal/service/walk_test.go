package service

import (
	"io/fs"
	"path/filepath"
)

// walkFiles calls fn for every regular file under root.
func walkFiles(root string, fn func(path string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fn(path)
		}
		return nil
	})
}
