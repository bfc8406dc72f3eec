package txn

// ResProfile is a named, symbolic log-space budget. Profiles describe how
// much log room an operation family needs and whether the reservation is
// permanent, meaning it may be regranted across rolls and carry deferred
// work.
type ResProfile struct {
	Name      string
	LogBlocks uint32
	Permanent bool
}

// Predefined reservation profiles, sized for the operation families this
// engine runs. The numbers are budgets, not measurements; what matters is
// that an operation's worst-case dirty footprint fits its profile.
var (
	// ResEmpty is the zero reservation for read-only transactions.
	// Committing one with any dirty item is a defect.
	ResEmpty = ResProfile{Name: "empty"}

	// ResWrite covers a plain buffer/inode update with no deferred work.
	ResWrite = ResProfile{Name: "write", LogBlocks: 16}

	// ResItruncate covers truncation: inode core plus a chain of
	// extent-free intents.
	ResItruncate = ResProfile{Name: "itruncate", LogBlocks: 32, Permanent: true}

	// ResSwapExt covers the extent-swap state machine: two inode cores,
	// bmap updates on both forks, and nested rmap/refcount intents.
	ResSwapExt = ResProfile{Name: "swapext", LogBlocks: 48, Permanent: true}

	// ResImeta covers metadata-inode registry edits.
	ResImeta = ResProfile{Name: "imeta", LogBlocks: 8, Permanent: true}
)

// resv tracks one resource reservation: how much was requested at Alloc
// time and how much has been consumed since.
type resv struct {
	requested uint64
	used      uint64
}

// unused returns the portion a successor inherits at Roll.
func (r resv) unused() uint64 {
	return r.requested - r.used
}
