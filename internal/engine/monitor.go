package engine

import "khatma/internal/domain"

// completeIfFull resets a board whose every task is Done and bumps its
// mission counter. User history is left as is. It reports whether a reset
// happened.
func completeIfFull(grp *domain.Group) bool {
	for _, t := range grp.Tasks {
		if t.Status != domain.StatusDone {
			return false
		}
	}
	grp.MissionCount++
	for i := range grp.Tasks {
		grp.Tasks[i] = domain.Task{}
	}
	return true
}
