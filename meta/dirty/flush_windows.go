//go:build windows

package dirty

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// flushRanges flushes dirty ranges to disk using FlushViewOfFile.
func (t *Tracker) flushRanges(data []byte) error {
	coalesced := t.coalesce()

	for _, r := range coalesced {
		// The superblock is flushed separately, after the data ranges.
		if r.Off < t.superSize {
			continue
		}

		start := int(r.Off)
		end := int(r.Off + r.Len)
		if end > len(data) {
			end = len(data)
		}
		if start >= end {
			continue
		}

		if err := msync(data[start:end]); err != nil {
			return err
		}
	}

	return nil
}

// msync performs memory sync for the given byte slice using FlushViewOfFile.
func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	// FlushViewOfFile requires the address and length.
	// Use unsafe.Pointer in a single expression to avoid linter warnings.
	addr := uintptr(unsafe.Pointer(&data[0]))
	return windows.FlushViewOfFile(addr, uintptr(len(data)))
}

// fdatasync performs file descriptor sync using FlushFileBuffers.
//
// The fullfsync parameter is ignored on Windows.
func fdatasync(fd int, _ bool) error {
	return windows.FlushFileBuffers(windows.Handle(fd))
}
