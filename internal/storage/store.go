// Package storage persists the calorie ledger.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mcp-calorie-log/internal/models"
)

// ErrCorrupt marks a persisted ledger that could not be decoded.
var ErrCorrupt = errors.New("ledger storage is corrupt")

// Store loads and saves the whole ledger. Save must never leave a
// half-written state visible to a later Load.
type Store interface {
	Load(ctx context.Context) (models.Ledger, error)
	Save(ctx context.Context, ledger models.Ledger) error
	Close() error
}

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver at path.
func Open(driver, path string, log *zap.Logger) (Store, error) {
	switch driver {
	case "", DriverJSON:
		return NewJSONStore(path, log), nil
	case DriverSQLite:
		return NewSQLiteStorage(path, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
