package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/capitalize-ai/listing-chat/internal/config"
)

// Open opens the store selected by cfg.StoreDriver.
func Open(cfg *config.Config, opts ...Option) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return NewMemory(opts...), nil
	case config.StoreBadger:
		if err := os.MkdirAll(cfg.BadgerPath, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		st, err := NewBadger(cfg.BadgerPath, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		st, err := NewSQLite(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
