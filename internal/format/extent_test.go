package format

import "testing"

func TestExtentRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		off, blk  uint64
		count     uint64
		unwritten bool
	}{
		{"zero", 0, 0, 0, false},
		{"one block written", 7, 1000, 1, false},
		{"one block unwritten", 7, 1000, 1, true},
		{"max length", 1 << 40, 1 << 42, MaxExtentLen, false},
		{"max offset", extStartOffMask, 5, 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, ExtentRecordSize)
			PutExtent(buf, 0, tc.off, tc.blk, tc.count, tc.unwritten)
			off, blk, count, unwritten := ReadExtent(buf, 0)
			if off != tc.off || blk != tc.blk || count != tc.count || unwritten != tc.unwritten {
				t.Fatalf("round trip mismatch: got (%d,%d,%d,%v) want (%d,%d,%d,%v)",
					off, blk, count, unwritten, tc.off, tc.blk, tc.count, tc.unwritten)
			}
		})
	}
}

func TestExtentStateDoesNotLeakIntoOffset(t *testing.T) {
	buf := make([]byte, ExtentRecordSize)
	PutExtent(buf, 0, 42, 9, 2, true)
	off, _, _, unwritten := ReadExtent(buf, 0)
	if !unwritten {
		t.Fatal("unwritten bit lost")
	}
	if off != 42 {
		t.Fatalf("state bit leaked into offset: %d", off)
	}
}
