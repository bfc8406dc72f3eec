//go:build unix

package mmfile

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// MapRW maps the file at path into memory read-write and returns its
// contents, the underlying file descriptor, and a cleanup function. The
// descriptor stays open for the lifetime of the mapping so callers can
// fdatasync it; cleanup unmaps and closes it.
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
	size := info.Size()
	if size == 0 {
		f.Close()
		return nil, -1, nil, fmt.Errorf("mmfile: empty file %q", path)
	}
	if size > int64(^uint(0)>>1) {
		f.Close()
		return nil, -1, nil, fmt.Errorf("mmfile: file too large to map (%d bytes)", size)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, -1, nil, err
	}

	cleanup := func() error {
		if data == nil {
			return f.Close()
		}
		err := syscall.Munmap(data)
		if errors.Is(err, syscall.EINVAL) {
			// Treat double-unmap as no-op for callers.
			err = nil
		}
		data = nil
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return data, int(f.Fd()), cleanup, nil
}
