// Package store persists the whole khatma state as one document. Every
// backend loads and saves a complete domain.Snapshot; callers serialize
// access themselves.
package store

import (
	"context"
	"fmt"

	"khatma/internal/config"
	"khatma/internal/db"
	"khatma/internal/domain"
)

// Store loads and saves the full state graph.
type Store interface {
	// Load returns the persisted snapshot, or an empty one when nothing has
	// been saved yet.
	Load(ctx context.Context) (*domain.Snapshot, error)
	// Save replaces the persisted snapshot with s.
	Save(ctx context.Context, s *domain.Snapshot) error
	Close() error
}

// Open builds the backend selected by cfg. Relative storage paths resolve
// against workspace.
func Open(ctx context.Context, cfg *config.Config, workspace string) (Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverJSON:
		return NewFile(cfg.StoragePath(workspace)), nil
	case config.DriverSQLite:
		conn, err := db.Open(db.Config{Path: cfg.StoragePath(workspace), Workspace: workspace})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s, err := NewSQLite(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
