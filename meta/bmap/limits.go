package bmap

import "github.com/joshuapare/metakit/internal/format"

// MaxExtents returns the largest extent count the on-disk counter field
// can represent for the given fork role and counter width.
func MaxExtents(isAttr, largeCounters bool) uint64 {
	switch {
	case isAttr && largeCounters:
		return format.MaxAttrExtentsLarge
	case isAttr:
		return format.MaxAttrExtentsSmall
	case largeCounters:
		return format.MaxDataExtentsLarge
	default:
		return format.MaxDataExtentsSmall
	}
}

// WouldOverflow reports whether current+delta exceeds the representable
// extent count. A negative delta never overflows.
func WouldOverflow(current uint64, delta int64, isAttr, largeCounters bool) bool {
	if delta <= 0 {
		return false
	}
	return current+uint64(delta) > MaxExtents(isAttr, largeCounters)
}
