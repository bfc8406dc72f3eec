//go:build !linux && !freebsd && !darwin && !windows

package dirty

// flushRanges is a no-op on platforms without a shared mapping; the mmfile
// fallback writes the whole buffer back on close.
func (t *Tracker) flushRanges(_ []byte) error {
	return nil
}

func msync(_ []byte) error {
	return nil
}

func fdatasync(_ int, _ bool) error {
	return nil
}
