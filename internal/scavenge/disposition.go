package scavenge

// Disposition is what the executor does with one physical chunk.
type Disposition int

const (
	// Skip leaves the chunk and its weight untouched so the weight keeps
	// accumulating toward the threshold.
	Skip Disposition = iota
	// LeaveToArchiver leaves a remote chunk to the archiver node.
	LeaveToArchiver
	// Remove means the chunk remover initiated removal.
	Remove
	// Rewrite rewrites the chunk without its discarded records.
	Rewrite
)

func (d Disposition) String() string {
	switch d {
	case Skip:
		return "skip"
	case LeaveToArchiver:
		return "leave_to_archiver"
	case Remove:
		return "remove"
	case Rewrite:
		return "rewrite"
	default:
		return "unknown"
	}
}

// ChunkConditions are the inputs of the disposition table.
type ChunkConditions struct {
	Remote   bool
	Archiver bool
	// Removable is only meaningful when RemovalCheckRequired holds.
	Removable bool
	// OverThreshold is weight > threshold, or UnsafeIgnoreHardDeletes.
	OverThreshold bool
}

// RemovalCheckRequired reports whether the chunk remover is consulted.
// Remote chunks belong to the archiver, so other nodes never ask.
func RemovalCheckRequired(remote, archiver bool) bool {
	return !remote || archiver
}

// Decide maps the four conditions onto a disposition:
//
//	remote  archiver  removable  over  -> disposition
//	true    false     any        any   -> LeaveToArchiver
//	other             true       any   -> Remove
//	other             false      true  -> Rewrite
//	other             false      false -> Skip
//
// Removal wins over rewrite: a chunk whose removal started is not rewritten.
func Decide(c ChunkConditions) Disposition {
	switch {
	case !RemovalCheckRequired(c.Remote, c.Archiver):
		return LeaveToArchiver
	case c.Removable:
		return Remove
	case c.OverThreshold:
		return Rewrite
	default:
		return Skip
	}
}

// ResetsWeight reports whether the chunk's weight is reset once the
// disposition is final.
func (d Disposition) ResetsWeight(weight float64) bool {
	switch d {
	case LeaveToArchiver:
		return weight > 0
	case Remove, Rewrite:
		return true
	default:
		return false
	}
}
