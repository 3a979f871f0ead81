package engine

import "khatma/internal/domain"

// resolveGroup returns the named board, creating a fresh one on first
// reference. created tells the caller the snapshot must be persisted even
// when nothing else changes.
func resolveGroup(snap *domain.Snapshot, name string) (grp *domain.Group, created bool) {
	if grp, ok := snap.Groups.Get(name); ok {
		return grp, false
	}
	grp = domain.NewGroup()
	snap.Groups.Put(name, grp)
	return grp, true
}
