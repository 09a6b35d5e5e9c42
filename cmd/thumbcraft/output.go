package main

import (
	"fmt"
	"os"
	"path/filepath"

	"itemuploader/internal/compose"
)

// output writes each composition into a folder and, when a zip path is
// set, into an archive as well.
type output struct {
	dir     string
	zipFile *os.File
	zip     *compose.ZipEmitter
}

func newOutput(dir, zipPath string) (*output, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	o := &output{dir: dir}
	if zipPath != "" {
		f, err := os.Create(zipPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", zipPath, err)
		}
		o.zipFile = f
		o.zip = compose.NewZipEmitter(f)
	}
	return o, nil
}

func (o *output) emit(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(o.dir, name), data, 0o644); err != nil {
		return err
	}
	if o.zip != nil {
		return o.zip.Emit(name, data)
	}
	return nil
}

func (o *output) close() error {
	if o.zip == nil {
		return nil
	}
	if err := o.zip.Close(); err != nil {
		o.zipFile.Close()
		return err
	}
	return o.zipFile.Close()
}
