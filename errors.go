package jackrabbit

import "errors"

var (
	// ErrLockHeld means another live process holds the repository home.
	ErrLockHeld = errors.New("jackrabbit: repository home is locked by another instance")
	// ErrLockIO covers every other failure to acquire the instance lock.
	ErrLockIO = errors.New("jackrabbit: cannot acquire the repository lock")

	ErrCorruptMetadata     = errors.New("jackrabbit: repository metadata is corrupt")
	ErrNoSuchWorkspace     = errors.New("jackrabbit: no such workspace")
	ErrWorkspaceExists     = errors.New("jackrabbit: workspace already exists")
	ErrWorkspaceInitFailed = errors.New("jackrabbit: workspace initialization failed")
	ErrAccessDenied        = errors.New("jackrabbit: access denied")
	ErrAlreadyDisposed     = errors.New("jackrabbit: repository instance has been shut down")
	ErrNotLoggedIn         = errors.New("jackrabbit: session is logged out")
	ErrLocked              = errors.New("jackrabbit: node is locked by another owner")
	ErrProtected           = errors.New("jackrabbit: protected node")
)
