package engine

import (
	"fmt"

	"khatma/internal/config"
	"khatma/internal/domain"
	"khatma/internal/i18n"
)

// effect is what a transition means for the holder's history.
type effect int

const (
	effectNone effect = iota
	effectCompleted
	effectCancelled
)

// advance moves one task a step along the configured policy and stamps or
// clears the holder. It does not touch history; the caller applies the
// returned effect. On error the task is unchanged.
func (e Engine) advance(t *domain.Task, taskID int, uid, name string) (domain.Status, effect, error) {
	switch e.policy() {
	case config.PolicyDoneOnly:
		return e.advanceDoneOnly(t, taskID, uid, name)
	default:
		return e.advanceCycle(t, taskID, uid, name)
	}
}

// advanceCycle: Available -> Reserved -> Done -> Available. Only the holder
// may move a task out of Reserved or Done.
func (e Engine) advanceCycle(t *domain.Task, taskID int, uid, name string) (domain.Status, effect, error) {
	if t.Status != domain.StatusAvailable && t.HolderID != uid {
		return t.Status, effectNone, OwnershipError{TaskID: taskID, HolderID: t.HolderID, Message: e.text(i18n.NotOwner)}
	}
	switch t.Status {
	case domain.StatusAvailable:
		*t = domain.Task{Status: domain.StatusReserved, HolderID: uid, HolderName: name}
		return t.Status, effectNone, nil
	case domain.StatusReserved:
		*t = domain.Task{Status: domain.StatusDone, HolderID: uid, HolderName: name}
		return t.Status, effectCompleted, nil
	case domain.StatusDone:
		*t = domain.Task{}
		return t.Status, effectCancelled, nil
	default:
		return t.Status, effectNone, fmt.Errorf("task %d has unknown status %d", taskID, int(t.Status))
	}
}

// advanceDoneOnly: Available -> Done, nothing else. There is no cancellation
// and no ownership distinction.
func (e Engine) advanceDoneOnly(t *domain.Task, taskID int, uid, name string) (domain.Status, effect, error) {
	if t.Status != domain.StatusAvailable {
		return t.Status, effectNone, AlreadyClaimedError{TaskID: taskID, Message: e.text(i18n.AlreadyClaimed)}
	}
	*t = domain.Task{Status: domain.StatusDone, HolderID: uid, HolderName: name}
	return t.Status, effectCompleted, nil
}
