package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PartsPerGroup is the fixed size of every group board.
const PartsPerGroup = 30

// Status is the persisted task state: 0 available, 1 reserved, 2 done.
type Status int

const (
	StatusAvailable Status = 0
	StatusReserved  Status = 1
	StatusDone      Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusReserved:
		return "reserved"
	case StatusDone:
		return "done"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

type Task struct {
	Status     Status `json:"status"`
	HolderID   string `json:"holderId"`
	HolderName string `json:"holderName"`
}

// Consistent reports whether the holder fields agree with the status.
func (t Task) Consistent() bool {
	return (t.Status == StatusAvailable) == (t.HolderID == "")
}

// Tasks holds a board in part order; index i is part i+1. It encodes as
// an object keyed "1".."30".
type Tasks []Task

func (ts Tasks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range ts {
		if i > 0 {
			buf.WriteByte(',')
		}
		val, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "%q:", strconv.Itoa(i+1))
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (ts *Tasks) UnmarshalJSON(data []byte) error {
	var raw map[string]Task
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Tasks, PartsPerGroup)
	for key, t := range raw {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > PartsPerGroup {
			return fmt.Errorf("task key %q out of range 1..%d", key, PartsPerGroup)
		}
		out[n-1] = t
	}
	*ts = out
	return nil
}

type Group struct {
	MissionCount int   `json:"missionCount"`
	Tasks        Tasks `json:"tasks"`
}

// NewGroup returns a board with every part available.
func NewGroup() *Group {
	return &Group{Tasks: make(Tasks, PartsPerGroup)}
}

// Task returns part id (1-based) or nil when id is out of range.
func (g *Group) Task(id int) *Task {
	if id < 1 || id > len(g.Tasks) {
		return nil
	}
	return &g.Tasks[id-1]
}

type User struct {
	Name    string           `json:"name"`
	History map[string][]int `json:"history"`
}

func NewUser(name string) *User {
	return &User{Name: name, History: map[string][]int{}}
}

// Completed returns the parts the user has finished in group.
func (u *User) Completed(group string) []int {
	if u == nil || u.History == nil {
		return nil
	}
	return u.History[group]
}

// Groups is a name-keyed set of boards that remembers first-insertion order,
// both in memory and in its JSON encoding.
type Groups struct {
	order  []string
	byName map[string]*Group
}

func (g *Groups) Get(name string) (*Group, bool) {
	grp, ok := g.byName[name]
	return grp, ok
}

// Put stores grp under name. A new name is appended to the order; an
// existing name keeps its position.
func (g *Groups) Put(name string, grp *Group) {
	if g.byName == nil {
		g.byName = map[string]*Group{}
	}
	if _, ok := g.byName[name]; !ok {
		g.order = append(g.order, name)
	}
	g.byName[name] = grp
}

// Names returns group names in first-creation order.
func (g *Groups) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Groups) Len() int { return len(g.order) }

func (g Groups) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(g.byName[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (g *Groups) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	out := Groups{}
	if tok == nil {
		*g = out
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("groups: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("groups: expected name, got %v", tok)
		}
		grp := NewGroup()
		if err := dec.Decode(grp); err != nil {
			return fmt.Errorf("group %q: %w", name, err)
		}
		out.Put(name, grp)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*g = out
	return nil
}

// Snapshot is the whole persisted state, loaded and saved as one unit.
type Snapshot struct {
	Groups Groups           `json:"groups"`
	Users  map[string]*User `json:"users"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Users: map[string]*User{}}
}

// Normalize fills the maps a decoded document may leave nil.
func (s *Snapshot) Normalize() {
	if s.Users == nil {
		s.Users = map[string]*User{}
	}
	for id, u := range s.Users {
		if u == nil {
			u = NewUser("")
			s.Users[id] = u
		}
		if u.History == nil {
			u.History = map[string][]int{}
		}
	}
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for _, name := range s.Groups.order {
		src := s.Groups.byName[name]
		grp := &Group{MissionCount: src.MissionCount, Tasks: make(Tasks, len(src.Tasks))}
		copy(grp.Tasks, src.Tasks)
		out.Groups.Put(name, grp)
	}
	for id, u := range s.Users {
		cp := NewUser(u.Name)
		for group, parts := range u.History {
			cp.History[group] = append([]int{}, parts...)
		}
		out.Users[id] = cp
	}
	return out
}
