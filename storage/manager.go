package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hboutemy/jackrabbit/fsys"
	"github.com/hboutemy/jackrabbit/utils"
)

var (
	ErrNotFound      = errors.New("storage: no such item")
	ErrClosed        = errors.New("storage: manager is closed")
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// Manager is the persistence manager contract: a durable bundle store
// applying change sets atomically.
type Manager interface {
	Load(id uuid.UUID) (*NodeState, error)
	Exists(id uuid.UUID) (bool, error)
	Apply(cl *ChangeLog) error
	Close() error
}

// Config selects and parameterizes a driver.
type Config struct {
	// Driver is "pebble" (durable, under Area) or "memory" (pebble over
	// an in-memory filesystem, for tests and throwaway workspaces).
	Driver string
	Area   *fsys.Area
	// RootID, when set, makes the driver create the root bundle on
	// first open so the workspace is never without one.
	RootID uuid.UUID
	Logger utils.Logger
}

// Open constructs the configured persistence manager.
func Open(cfg Config) (Manager, error) {
	switch cfg.Driver {
	case "", "pebble":
		return openPebble(cfg, false)
	case "memory":
		return openPebble(cfg, true)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
