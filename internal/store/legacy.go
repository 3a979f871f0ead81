package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"khatma/internal/domain"
)

type legacyTask struct {
	Status   domain.Status `json:"status"`
	UserID   string        `json:"user_id"`
	UserName string        `json:"user_name"`
}

type legacyGroup struct {
	Missions int                   `json:"nombre_mission"`
	Tasks    map[string]legacyTask `json:"tasks"`
}

type legacyUser struct {
	Name    string                       `json:"name"`
	History map[string][]json.RawMessage `json:"history"`
}

type legacyDocument struct {
	Groups json.RawMessage        `json:"groups"`
	Users  map[string]*legacyUser `json:"users"`
}

// DecodeLegacy reads the data.json layout written by the first version of
// the service and converts it to a snapshot. Group order follows the
// document. History entries may be numbers or numeric strings; duplicates
// are dropped.
func DecodeLegacy(r io.Reader) (*domain.Snapshot, error) {
	var doc legacyDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode legacy document: %w", err)
	}
	snap := domain.NewSnapshot()

	names, err := objectKeys(doc.Groups)
	if err != nil {
		return nil, fmt.Errorf("legacy groups: %w", err)
	}
	var raw map[string]legacyGroup
	if len(names) > 0 {
		if err := json.Unmarshal(doc.Groups, &raw); err != nil {
			return nil, fmt.Errorf("legacy groups: %w", err)
		}
	}
	for _, name := range names {
		lg := raw[name]
		if lg.Missions < 0 {
			return nil, fmt.Errorf("legacy group %q: negative mission count", name)
		}
		grp := domain.NewGroup()
		grp.MissionCount = lg.Missions
		for key, lt := range lg.Tasks {
			n, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("legacy group %q: task key %q", name, key)
			}
			slot := grp.Task(n)
			if slot == nil {
				return nil, fmt.Errorf("legacy group %q: task %d out of range", name, n)
			}
			if lt.Status < domain.StatusAvailable || lt.Status > domain.StatusDone {
				return nil, fmt.Errorf("legacy group %q task %d: status %d", name, n, lt.Status)
			}
			t := domain.Task{Status: lt.Status, HolderID: lt.UserID, HolderName: lt.UserName}
			if !t.Consistent() {
				t = domain.Task{}
			}
			*slot = t
		}
		snap.Groups.Put(name, grp)
	}

	for id, lu := range doc.Users {
		if lu == nil {
			continue
		}
		u := domain.NewUser(lu.Name)
		for group, entries := range lu.History {
			parts := make([]int, 0, len(entries))
			for _, entry := range entries {
				n, err := legacyTaskID(entry)
				if err != nil {
					return nil, fmt.Errorf("legacy user %s history %q: %w", id, group, err)
				}
				if !slices.Contains(parts, n) {
					parts = append(parts, n)
				}
			}
			u.History[group] = parts
		}
		snap.Users[id] = u
	}
	return snap, nil
}

func legacyTaskID(raw json.RawMessage) (int, error) {
	s := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("task id %s is not a number", raw)
	}
	if n < 1 || n > domain.PartsPerGroup {
		return 0, fmt.Errorf("task id %d out of range", n)
	}
	return n, nil
}

// objectKeys lists the keys of a JSON object in document order.
func objectKeys(data json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
