package sched

import (
	"errors"
	"fmt"
)

// ErrInvalid reports invalid use of the scheduler API: double
// initialization, waiting on a dead handle, root completion outside
// the master, or an unsupported dependency. Internal consistency
// failures are logged instead; the scheduler never panics on them.
var ErrInvalid = errors.New("invalid argument")

// ErrNotInitialized reports use of the process-wide scheduler before
// Init or after Fini. It matches ErrInvalid.
var ErrNotInitialized = fmt.Errorf("%w: tasking subsystem not initialized", ErrInvalid)

// ErrUnsupportedDep reports a dependency kind the scheduler cannot
// honor, locally or on the wire. It matches ErrInvalid.
var ErrUnsupportedDep = fmt.Errorf("%w: unsupported dependency kind", ErrInvalid)
