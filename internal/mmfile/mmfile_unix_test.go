//go:build unix

package mmfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapRWMutationsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	if err := os.WriteFile(path, make([]byte, 8192), 0o644); err != nil {
		t.Fatal(err)
	}

	data, fd, cleanup, err := MapRW(path)
	if err != nil {
		t.Fatal(err)
	}
	if fd < 0 {
		t.Fatalf("bad fd %d", fd)
	}
	if len(data) != 8192 {
		t.Fatalf("mapped %d bytes, want 8192", len(data))
	}
	data[4096] = 0xAB
	if err := cleanup(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got[4096] != 0xAB {
		t.Fatal("mutation did not reach the file")
	}
}

func TestMapRWEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := MapRW(path); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestMapRWCleanupIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, cleanup, err := MapRW(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cleanup(); err != nil {
		t.Fatal(err)
	}
}
