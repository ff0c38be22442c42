package container

import "errors"

var (
	// ErrAlreadyExists is returned by Alloc for a name already in use.
	ErrAlreadyExists = errors.New("container already exists")
	// ErrNotFound is returned when a named container or component cannot
	// be located.
	ErrNotFound = errors.New("not found")
	// ErrCyclicReference is returned when a component's configuration,
	// directly or transitively, depends on itself.
	ErrCyclicReference = errors.New("cyclic component reference")
	// ErrUnknownType is returned when a container declaration names a
	// factory type that was never registered.
	ErrUnknownType = errors.New("unknown component type")
)
