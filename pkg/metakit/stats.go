package metakit

import "github.com/joshuapare/metakit/meta/alloc"

// Stats is a point-in-time snapshot of a mounted image.
type Stats struct {
	BlockSize int
	DBlocks   uint64
	FDBlocks  uint64
	ICount    uint64
	IFree     uint64
	FRExtents uint64
	CommitSeq uint64

	CachedInodes int
	MappedOwners int
	RmapOps      int
	SharedBlocks uint64

	Alloc alloc.Stats
}

// Stats snapshots the superblock counters and index state.
func (fs *FS) Stats() Stats {
	sb := fs.img.Super()
	return Stats{
		BlockSize: fs.img.BlockSize(),
		DBlocks:   sb.DBlocks(),
		FDBlocks:  sb.FDBlocks(),
		ICount:    sb.ICount(),
		IFree:     sb.IFree(),
		FRExtents: sb.FRExtents(),
		CommitSeq: sb.CommitSeq(),

		CachedInodes: fs.cache.Len(),
		MappedOwners: fs.rindex.Len(),
		RmapOps:      fs.rindex.OpsRecorded(),
		SharedBlocks: fs.rcindex.SharedBlocks(),

		Alloc: fs.fspace.Stats(),
	}
}
