package engine

import (
	"slices"
	"strings"

	"khatma/internal/domain"
	"khatma/internal/i18n"
)

// UserIDLength is the number of decimal digits in a user id.
const UserIDLength = 5

func validUserID(id string) bool {
	if len(id) != UserIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// register creates the user or renames it in place. History is never touched.
func (e Engine) register(snap *domain.Snapshot, id, name string) (*domain.User, error) {
	if !validUserID(id) {
		return nil, ValidationError{Key: i18n.InvalidID, Message: e.text(i18n.InvalidID)}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ValidationError{Key: i18n.MissingName, Message: e.text(i18n.MissingName)}
	}
	if u, ok := snap.Users[id]; ok {
		u.Name = name
		return u, nil
	}
	u := domain.NewUser(name)
	snap.Users[id] = u
	return u, nil
}

func recordCompletion(u *domain.User, group string, taskID int) {
	if u.History == nil {
		u.History = map[string][]int{}
	}
	if slices.Contains(u.History[group], taskID) {
		return
	}
	u.History[group] = append(u.History[group], taskID)
}

func recordCancellation(u *domain.User, group string, taskID int) {
	parts, ok := u.History[group]
	if !ok {
		return
	}
	if i := slices.Index(parts, taskID); i >= 0 {
		u.History[group] = slices.Delete(parts, i, i+1)
	}
}
