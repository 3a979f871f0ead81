package engine

import (
	"context"
	"fmt"
	"sync"

	"khatma/internal/config"
	"khatma/internal/domain"
	"khatma/internal/i18n"
	"khatma/internal/logging"
	"khatma/internal/store"
)

// Engine applies requests to the persisted snapshot. Every operation runs
// load, validate, mutate and save under one lock shared by all copies of the
// Engine, so concurrent requests never interleave their read-modify-write.
// Build it with New.
type Engine struct {
	Store    store.Store
	Config   *config.Config
	Log      logging.Logger
	Messages i18n.Translator

	mu *sync.Mutex
}

func New(s store.Store, cfg *config.Config, log logging.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Discard()
	}
	return Engine{
		Store:    s,
		Config:   cfg,
		Log:      log,
		Messages: i18n.New(cfg.Locale),
		mu:       &sync.Mutex{},
	}
}

func (e Engine) policy() string {
	if e.Config == nil {
		return config.PolicyCycle
	}
	return e.Config.Policy
}

func (e Engine) text(key i18n.Key, args ...any) string {
	return e.Messages.Text(key, args...)
}

// Board is one group's counter and its 30 tasks.
type Board struct {
	Name         string
	MissionCount int
	Tasks        domain.Tasks
}

func boardOf(name string, grp *domain.Group) Board {
	tasks := make(domain.Tasks, len(grp.Tasks))
	copy(tasks, grp.Tasks)
	return Board{Name: name, MissionCount: grp.MissionCount, Tasks: tasks}
}

type RegisterRequest struct {
	Group string
	ID    string
	Name  string
}

type RegisterResult struct {
	ID      string
	Name    string
	Created bool
}

// Register logs a user into a group: the user is created or renamed, and the
// group board is created if this is its first reference.
func (e Engine) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if req.Group == "" {
		return RegisterResult{}, ValidationError{Key: i18n.MissingFields, Message: e.text(i18n.MissingFields)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Store.Load(ctx)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("load: %w", err)
	}
	_, existed := snap.Users[req.ID]
	u, err := e.register(snap, req.ID, req.Name)
	if err != nil {
		return RegisterResult{}, err
	}
	if _, created := resolveGroup(snap, req.Group); created {
		e.Log.Info(ctx, "group created", "group", req.Group)
	}
	if err := e.Store.Save(ctx, snap); err != nil {
		return RegisterResult{}, fmt.Errorf("save: %w", err)
	}
	e.Log.Info(ctx, "user registered", "uid", req.ID, "group", req.Group, "new", !existed)
	return RegisterResult{ID: req.ID, Name: u.Name, Created: !existed}, nil
}

type AdvanceRequest struct {
	Group  string
	UserID string
	TaskID int
}

type AdvanceResult struct {
	TaskID int
	// Status is the task's status right after the transition, before any
	// mission reset.
	Status            domain.Status
	Board             Board
	CompletionMessage string
}

// Advance moves one task a step for the requesting user, keeps the user's
// history in lockstep and resets the board when every task is done.
func (e Engine) Advance(ctx context.Context, req AdvanceRequest) (AdvanceResult, error) {
	if missing := missingFields(req); len(missing) > 0 {
		return AdvanceResult{}, MissingFieldsError{Fields: missing, Message: e.text(i18n.MissingFields)}
	}
	if req.TaskID < 1 || req.TaskID > domain.PartsPerGroup {
		return AdvanceResult{}, ValidationError{Key: i18n.InvalidTask, Message: e.text(i18n.InvalidTask, req.TaskID)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Store.Load(ctx)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("load: %w", err)
	}
	u, ok := snap.Users[req.UserID]
	if !ok {
		return AdvanceResult{}, NotFoundError{Kind: "user", ID: req.UserID, Message: e.text(i18n.NotRegistered)}
	}
	grp, _ := resolveGroup(snap, req.Group)
	status, eff, err := e.advance(grp.Task(req.TaskID), req.TaskID, req.UserID, u.Name)
	if err != nil {
		e.Log.Debug(ctx, "transition rejected", "group", req.Group, "task", req.TaskID, "uid", req.UserID, "err", err)
		return AdvanceResult{}, err
	}
	switch eff {
	case effectCompleted:
		recordCompletion(u, req.Group, req.TaskID)
	case effectCancelled:
		recordCancellation(u, req.Group, req.TaskID)
	}

	res := AdvanceResult{TaskID: req.TaskID, Status: status}
	if completeIfFull(grp) {
		res.CompletionMessage = e.text(i18n.MissionComplete)
		e.Log.Info(ctx, "mission complete", "group", req.Group, "missions", grp.MissionCount)
	}
	if err := e.Store.Save(ctx, snap); err != nil {
		return AdvanceResult{}, fmt.Errorf("save: %w", err)
	}
	e.Log.Info(ctx, "task advanced", "group", req.Group, "task", req.TaskID, "uid", req.UserID, "status", status.String())
	res.Board = boardOf(req.Group, grp)
	return res, nil
}

func missingFields(req AdvanceRequest) []string {
	var out []string
	if req.Group == "" {
		out = append(out, "group")
	}
	if req.UserID == "" {
		out = append(out, "uid")
	}
	if req.TaskID == 0 {
		out = append(out, "task_id")
	}
	return out
}

// Board returns a group's board, creating and persisting it when absent.
func (e Engine) Board(ctx context.Context, group string) (Board, error) {
	if group == "" {
		return Board{}, MissingFieldsError{Fields: []string{"group"}, Message: e.text(i18n.MissingFields)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Store.Load(ctx)
	if err != nil {
		return Board{}, fmt.Errorf("load: %w", err)
	}
	grp, err := e.resolveAndPersist(ctx, snap, group)
	if err != nil {
		return Board{}, err
	}
	return boardOf(group, grp), nil
}

func (e Engine) resolveAndPersist(ctx context.Context, snap *domain.Snapshot, group string) (*domain.Group, error) {
	grp, created := resolveGroup(snap, group)
	if !created {
		return grp, nil
	}
	if err := e.Store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	e.Log.Info(ctx, "group created", "group", group)
	return grp, nil
}

// ListGroups returns group names in first-creation order.
func (e Engine) ListGroups(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return snap.Groups.Names(), nil
}

// MemberView is what a registered user sees for one group.
type MemberView struct {
	Board     Board
	UserID    string
	UserName  string
	Completed int
}

// Member returns the board as seen by uid. An unknown uid yields a
// NotFoundError and leaves the store untouched.
func (e Engine) Member(ctx context.Context, group, uid string) (MemberView, error) {
	if group == "" || uid == "" {
		var missing []string
		if group == "" {
			missing = append(missing, "group")
		}
		if uid == "" {
			missing = append(missing, "uid")
		}
		return MemberView{}, MissingFieldsError{Fields: missing, Message: e.text(i18n.MissingFields)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Store.Load(ctx)
	if err != nil {
		return MemberView{}, fmt.Errorf("load: %w", err)
	}
	u, ok := snap.Users[uid]
	if !ok {
		return MemberView{}, NotFoundError{Kind: "user", ID: uid, Message: e.text(i18n.NotRegistered)}
	}
	grp, err := e.resolveAndPersist(ctx, snap, group)
	if err != nil {
		return MemberView{}, err
	}
	return MemberView{
		Board:     boardOf(group, grp),
		UserID:    uid,
		UserName:  u.Name,
		Completed: len(u.Completed(group)),
	}, nil
}

// User returns a copy of the user record.
func (e Engine) User(ctx context.Context, uid string) (domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.Store.Load(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("load: %w", err)
	}
	u, ok := snap.Users[uid]
	if !ok {
		return domain.User{}, NotFoundError{Kind: "user", ID: uid, Message: e.text(i18n.NotFound)}
	}
	out := domain.NewUser(u.Name)
	for group, parts := range u.History {
		out.History[group] = append([]int{}, parts...)
	}
	return *out, nil
}

// Export returns the whole persisted snapshot.
func (e Engine) Export(ctx context.Context) (*domain.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Store.Load(ctx)
}

// Import replaces the persisted snapshot after checking task consistency.
func (e Engine) Import(ctx context.Context, snap *domain.Snapshot) error {
	snap.Normalize()
	for _, name := range snap.Groups.Names() {
		grp, _ := snap.Groups.Get(name)
		if grp.MissionCount < 0 {
			return fmt.Errorf("group %q: negative mission count", name)
		}
		for i, t := range grp.Tasks {
			if t.Status < domain.StatusAvailable || t.Status > domain.StatusDone {
				return fmt.Errorf("group %q task %d: unknown status %d", name, i+1, int(t.Status))
			}
			if !t.Consistent() {
				return fmt.Errorf("group %q task %d: holder does not match status %s", name, i+1, t.Status)
			}
		}
	}
	for id := range snap.Users {
		if !validUserID(id) {
			return fmt.Errorf("user id %q is not %d digits", id, UserIDLength)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	e.Log.Info(ctx, "snapshot imported", "groups", snap.Groups.Len(), "users", len(snap.Users))
	return nil
}
