//go:build !unix && !windows

// Package mmfile provides platform-specific helpers for memory-mapping
// metadata image files.
package mmfile

import (
	"fmt"
	"os"
)

// MapRW reads the entire file when mmap is not available. The returned
// cleanup writes the buffer back before closing, so mutations survive the
// same way a shared mapping would.
func MapRW(path string) ([]byte, int, func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, -1, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, -1, nil, err
	}
	if info.Size() == 0 {
		f.Close()
		return nil, -1, nil, fmt.Errorf("mmfile: empty file %q", path)
	}
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil {
		f.Close()
		return nil, -1, nil, err
	}
	cleanup := func() error {
		if _, err := f.WriteAt(data, 0); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return data, int(f.Fd()), cleanup, nil
}
