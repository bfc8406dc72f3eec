package imeta

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/inode"
	"github.com/joshuapare/metakit/meta/txn"
)

// Registry is a handle to an image's metadata-inode registry block.
type Registry struct {
	img *meta.Image
}

// Open returns the registry handle for img. The registry block itself
// may not exist yet; Init creates it.
func Open(img *meta.Image) *Registry {
	return &Registry{img: img}
}

// slots returns the slot capacity of one registry block.
func (r *Registry) slots() int {
	return (r.img.BlockSize() - format.ImetaDataOffset) / format.ImetaSlotSize
}

func slotOff(i int) int {
	return format.ImetaDataOffset + i*format.ImetaSlotSize
}

// Init formats blk as the registry block inside tx and records it in the
// superblock. The caller owns having allocated blk.
func (r *Registry) Init(tx *txn.Txn, blk uint64) error {
	b, err := r.img.Get(blk, 1)
	if err != nil {
		return err
	}
	bi := tx.JoinBuf(b)
	for i := range b.Data {
		b.Data[i] = 0
	}
	copy(b.Data, format.ImetaMagic)
	format.PutU32(b.Data, format.ImetaCountOffset, 0)
	tx.OrderBuf(bi)

	r.img.Super().SetImetaBlock(blk)
	return nil
}

// block returns the registry block number or ErrNoRegistry.
func (r *Registry) block() (uint64, error) {
	blk := r.img.Super().ImetaBlock()
	if blk == format.NullBlock {
		return 0, ErrNoRegistry
	}
	return blk, nil
}

// Lookup returns the inode registered under name. Within a transaction
// that edited the registry, the pending edits are visible.
func (r *Registry) Lookup(name string) (uint64, error) {
	blk, err := r.block()
	if err != nil {
		return 0, err
	}
	b, err := r.img.Get(blk, 1)
	if err != nil {
		return 0, err
	}
	defer r.img.Release(b)
	if err := checkMagic(b.Data, blk); err != nil {
		return 0, err
	}

	i, ok := findSlot(b.Data, r.slots(), name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return format.ReadU64(b.Data, slotOff(i)+format.ImetaSlotNameSize), nil
}

// Names returns every registered name in slot order.
func (r *Registry) Names() ([]string, error) {
	blk, err := r.block()
	if err != nil {
		return nil, err
	}
	b, err := r.img.Get(blk, 1)
	if err != nil {
		return nil, err
	}
	defer r.img.Release(b)
	if err := checkMagic(b.Data, blk); err != nil {
		return nil, err
	}

	var out []string
	for i := 0; i < r.slots(); i++ {
		if n := slotName(b.Data, i); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// Create allocates an inode for name, links it into the registry, and
// logs both through tx. The returned inode is joined and core-logged; the
// caller may keep mutating it before commit.
func (r *Registry) Create(tx *txn.Txn, name string, mode uint16) (*inode.Inode, error) {
	if name == "" || len(name) > format.ImetaSlotNameSize {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	blk, err := r.block()
	if err != nil {
		return nil, err
	}
	b, err := r.img.Get(blk, 1)
	if err != nil {
		return nil, err
	}
	bi := tx.JoinBuf(b)
	if err := checkMagic(b.Data, blk); err != nil {
		return nil, err
	}

	if _, ok := findSlot(b.Data, r.slots(), name); ok {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}
	free := -1
	for i := 0; i < r.slots(); i++ {
		if slotName(b.Data, i) == "" {
			free = i
			break
		}
	}
	if free == -1 {
		return nil, ErrFull
	}

	ino, err := inode.FindFree(r.img)
	if err != nil {
		return nil, err
	}
	ip := inode.New(ino, mode)

	off := slotOff(free)
	for i := 0; i < format.ImetaSlotSize; i++ {
		b.Data[off+i] = 0
	}
	copy(b.Data[off:], name)
	format.PutU64(b.Data, off+format.ImetaSlotNameSize, ino)
	tx.LogBuf(bi, off, off+format.ImetaSlotSize-1)
	bumpCount(tx, bi, b.Data, 1)

	ii := tx.JoinInode(ip)
	tx.LogInode(ii, txn.LogCore|txn.LogData|txn.LogAttr)
	tx.ModCounter(txn.CntICount, 1)
	tx.ModCounter(txn.CntIFree, -1)
	return ip, nil
}

// Unlink removes name's slot and returns the inode number it held. The
// inode record itself is the caller's to retire.
func (r *Registry) Unlink(tx *txn.Txn, name string) (uint64, error) {
	blk, err := r.block()
	if err != nil {
		return 0, err
	}
	b, err := r.img.Get(blk, 1)
	if err != nil {
		return 0, err
	}
	bi := tx.JoinBuf(b)
	if err := checkMagic(b.Data, blk); err != nil {
		return 0, err
	}

	i, ok := findSlot(b.Data, r.slots(), name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	off := slotOff(i)
	ino := format.ReadU64(b.Data, off+format.ImetaSlotNameSize)
	for j := 0; j < format.ImetaSlotSize; j++ {
		b.Data[off+j] = 0
	}
	tx.LogBuf(bi, off, off+format.ImetaSlotSize-1)
	bumpCount(tx, bi, b.Data, -1)

	tx.ModCounter(txn.CntICount, -1)
	tx.ModCounter(txn.CntIFree, 1)
	return ino, nil
}

func bumpCount(tx *txn.Txn, bi *txn.BufItem, data []byte, delta int32) {
	n := int32(format.ReadU32(data, format.ImetaCountOffset)) + delta
	format.PutU32(data, format.ImetaCountOffset, uint32(n))
	tx.LogBuf(bi, format.ImetaCountOffset, format.ImetaCountOffset+3)
}

func checkMagic(data []byte, blk uint64) error {
	if !bytes.Equal(data[:4], format.ImetaMagic) {
		return fmt.Errorf("%w: block %d magic %q", ErrNoRegistry, blk, data[:4])
	}
	return nil
}

func slotName(data []byte, i int) string {
	raw := data[slotOff(i) : slotOff(i)+format.ImetaSlotNameSize]
	end := bytes.IndexByte(raw, 0)
	if end == -1 {
		end = len(raw)
	}
	return string(raw[:end])
}

func findSlot(data []byte, slots int, name string) (int, bool) {
	for i := 0; i < slots; i++ {
		if slotName(data, i) == name {
			return i, true
		}
	}
	return -1, false
}
