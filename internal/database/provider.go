package database

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Backend bundles the stores served by one database connection.
type Backend struct {
	Identities IdentityWriter
	Attendance AttendanceLedger
	Subjects   SubjectStore

	closer func() error
}

// NewBackend assembles a Backend. closer may be nil.
func NewBackend(identities IdentityWriter, attendance AttendanceLedger, subjects SubjectStore, closer func() error) *Backend {
	return &Backend{
		Identities: identities,
		Attendance: attendance,
		Subjects:   subjects,
		closer:     closer,
	}
}

// Close releases the underlying connection.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Options configures a driver when opening a backend.
type Options struct {
	URL          string
	Dim          int
	MaxOpenConns int
	MaxIdleConns int
}

// Opener connects to a database and returns its stores.
type Opener func(ctx context.Context, opts Options) (*Backend, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Opener)
)

// Register makes a backend available under name.
// Backend packages call it from init, so importing a backend enables it.
func Register(name string, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("database: Register opener is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("database: Register called twice for driver " + name)
	}
	drivers[name] = open
}

// Drivers returns the sorted names of registered backends.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open connects to the backend registered under driver.
func Open(ctx context.Context, driver string, opts Options) (*Backend, error) {
	driversMu.RLock()
	open, ok := drivers[driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (available: %v)", driver, Drivers())
	}
	b, err := open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", driver, err)
	}
	return b, nil
}
