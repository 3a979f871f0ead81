package store

import (
	"context"
	"database/sql"
	"fmt"

	"khatma/internal/domain"
	"khatma/internal/migrate"
)

// SQLite stores the snapshot in normalized tables. Save rewrites every
// table inside one transaction, so the document is replaced as a unit.
type SQLite struct {
	DB *sql.DB
}

// NewSQLite migrates conn and wraps it. The store owns conn from here on.
func NewSQLite(ctx context.Context, conn *sql.DB) (*SQLite, error) {
	if err := migrate.Migrate(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{DB: conn}, nil
}

func (s *SQLite) Load(ctx context.Context) (*domain.Snapshot, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := domain.NewSnapshot()
	if err := loadGroups(ctx, tx, snap); err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	if err := loadTasks(ctx, tx, snap); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	if err := loadUsers(ctx, tx, snap); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if err := loadHistory(ctx, tx, snap); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return snap, tx.Commit()
}

func loadGroups(ctx context.Context, tx *sql.Tx, snap *domain.Snapshot) error {
	rows, err := tx.QueryContext(ctx, `SELECT name, mission_count FROM boards ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		grp := domain.NewGroup()
		if err := rows.Scan(&name, &grp.MissionCount); err != nil {
			return err
		}
		snap.Groups.Put(name, grp)
	}
	return rows.Err()
}

func loadTasks(ctx context.Context, tx *sql.Tx, snap *domain.Snapshot) error {
	rows, err := tx.QueryContext(ctx, `SELECT group_name, idx, status, holder_id, holder_name FROM tasks`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			group string
			idx   int
			t     domain.Task
		)
		if err := rows.Scan(&group, &idx, &t.Status, &t.HolderID, &t.HolderName); err != nil {
			return err
		}
		grp, ok := snap.Groups.Get(group)
		if !ok {
			return fmt.Errorf("task %d references unknown group %q", idx, group)
		}
		slot := grp.Task(idx)
		if slot == nil {
			return fmt.Errorf("group %q task %d out of range", group, idx)
		}
		*slot = t
	}
	return rows.Err()
}

func loadUsers(ctx context.Context, tx *sql.Tx, snap *domain.Snapshot) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM users`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		snap.Users[id] = domain.NewUser(name)
	}
	return rows.Err()
}

func loadHistory(ctx context.Context, tx *sql.Tx, snap *domain.Snapshot) error {
	rows, err := tx.QueryContext(ctx, `SELECT user_id, group_name, task_idx FROM user_history ORDER BY user_id, group_name, pos`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			userID, group string
			idx           int
		)
		if err := rows.Scan(&userID, &group, &idx); err != nil {
			return err
		}
		u, ok := snap.Users[userID]
		if !ok {
			return fmt.Errorf("history references unknown user %s", userID)
		}
		u.History[group] = append(u.History[group], idx)
	}
	return rows.Err()
}

func (s *SQLite) Save(ctx context.Context, snap *domain.Snapshot) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"user_history", "users", "tasks", "boards"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := saveGroups(ctx, tx, snap); err != nil {
		return err
	}
	if err := saveUsers(ctx, tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func saveGroups(ctx context.Context, tx *sql.Tx, snap *domain.Snapshot) error {
	groupStmt, err := tx.PrepareContext(ctx, `INSERT INTO boards(name,seq,mission_count) VALUES (?,?,?)`)
	if err != nil {
		return err
	}
	defer groupStmt.Close()
	taskStmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks(group_name,idx,status,holder_id,holder_name) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer taskStmt.Close()

	for seq, name := range snap.Groups.Names() {
		grp, _ := snap.Groups.Get(name)
		if _, err := groupStmt.ExecContext(ctx, name, seq+1, grp.MissionCount); err != nil {
			return fmt.Errorf("insert group %q: %w", name, err)
		}
		for i, t := range grp.Tasks {
			if _, err := taskStmt.ExecContext(ctx, name, i+1, int(t.Status), t.HolderID, t.HolderName); err != nil {
				return fmt.Errorf("insert group %q task %d: %w", name, i+1, err)
			}
		}
	}
	return nil
}

func saveUsers(ctx context.Context, tx *sql.Tx, snap *domain.Snapshot) error {
	userStmt, err := tx.PrepareContext(ctx, `INSERT INTO users(id,name) VALUES (?,?)`)
	if err != nil {
		return err
	}
	defer userStmt.Close()
	histStmt, err := tx.PrepareContext(ctx, `INSERT INTO user_history(user_id,group_name,pos,task_idx) VALUES (?,?,?,?)`)
	if err != nil {
		return err
	}
	defer histStmt.Close()

	for id, u := range snap.Users {
		if _, err := userStmt.ExecContext(ctx, id, u.Name); err != nil {
			return fmt.Errorf("insert user %s: %w", id, err)
		}
		for group, parts := range u.History {
			for pos, idx := range parts {
				if _, err := histStmt.ExecContext(ctx, id, group, pos, idx); err != nil {
					return fmt.Errorf("insert history %s/%s/%d: %w", id, group, idx, err)
				}
			}
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}
