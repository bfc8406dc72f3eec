package format

// Packed extent records squeeze one mapping into 16 bytes, two uint64 words:
//
//	word0  bit 63     unwritten state
//	       bits 62..0 logical start offset (blocks)
//	word1  bits 63..21 physical start block
//	       bits 20..0  block count
//
// The split gives 2^43 addressable physical blocks and MaxExtentLen blocks
// per record, which bounds how much work a single mapping operation can ever
// represent.

const (
	extStateBit       = 63
	extStartOffMask   = (uint64(1) << 63) - 1
	extBlockCountBits = 21
	extBlockCountMask = (uint64(1) << extBlockCountBits) - 1
)

// PutExtent packs one extent record at b[off:off+ExtentRecordSize].
// blockCount must not exceed MaxExtentLen; callers split larger runs.
func PutExtent(b []byte, off int, startOff, startBlock, blockCount uint64, unwritten bool) {
	w0 := startOff & extStartOffMask
	if unwritten {
		w0 |= uint64(1) << extStateBit
	}
	w1 := (startBlock << extBlockCountBits) | (blockCount & extBlockCountMask)
	PutU64(b, off, w0)
	PutU64(b, off+8, w1)
}

// ReadExtent unpacks one extent record from b[off:off+ExtentRecordSize].
func ReadExtent(b []byte, off int) (startOff, startBlock, blockCount uint64, unwritten bool) {
	w0 := ReadU64(b, off)
	w1 := ReadU64(b, off+8)
	startOff = w0 & extStartOffMask
	unwritten = w0>>extStateBit != 0
	startBlock = w1 >> extBlockCountBits
	blockCount = w1 & extBlockCountMask
	return
}
