package bmap

// MergeClass describes how a mapping placed into a fork would combine
// with its logical neighbors.
type MergeClass int

const (
	// MergeNeither: the mapping stands alone, extent count grows by one.
	MergeNeither MergeClass = iota

	// MergeLeft: the mapping extends the previous extent.
	MergeLeft

	// MergeRight: the mapping extends the following extent.
	MergeRight

	// MergeBoth: the mapping bridges two extents into one.
	MergeBoth
)

func (c MergeClass) String() string {
	switch c {
	case MergeNeither:
		return "neither"
	case MergeLeft:
		return "left"
	case MergeRight:
		return "right"
	case MergeBoth:
		return "both"
	}
	return "unknown"
}

// ClassDelta returns the extent-count change an insert of the given class
// causes: bridging removes one extent, one-sided merges are neutral, a
// standalone insert adds one.
func (c MergeClass) ClassDelta() int {
	switch c {
	case MergeBoth:
		return -1
	case MergeLeft, MergeRight:
		return 0
	default:
		return 1
	}
}

// Classify predicts the merge class of inserting m into f, assuming the
// range [m.StartOff, m.EndOff()) is currently unmapped.
func (f *Fork) Classify(m Mapping) MergeClass {
	var left, right bool
	for _, e := range f.Extents {
		if canMerge(e, m) {
			left = true
		}
		if canMerge(m, e) {
			right = true
		}
	}
	switch {
	case left && right:
		return MergeBoth
	case left:
		return MergeLeft
	case right:
		return MergeRight
	}
	return MergeNeither
}
