package remote

import "weft/internal/gptr"

// UnitID aliases the participant id used throughout the runtime.
type UnitID = gptr.UnitID

// Handler receives inbound dependency traffic. The scheduler implements
// it; callbacks run on whichever worker is progressing the transport.
type Handler interface {
	// HandleDepRequest stages an inbound remote IN dependency for
	// resolution at the next phase boundary.
	HandleDepRequest(req DepRequest) error

	// HandleDirectRequest registers a remote successor on a local task,
	// or releases it immediately if the task already finished.
	HandleDirectRequest(req DirectRequest) error

	// HandleRelease resolves one remote dependency of a local task.
	HandleRelease(rel Release) error
}

// Transport moves dependency messages between participants. Sends are
// fire-and-forget; delivery guarantees are the transport's concern.
type Transport interface {
	// Init binds the transport to its participant id and handler.
	Init(self UnitID, h Handler) error

	// Fini releases transport resources.
	Fini() error

	// Progress serves inbound messages without blocking.
	Progress() error

	// ProgressBlocking serves inbound messages until the local inbound
	// queue is quiescent.
	ProgressBlocking() error

	// DataDep sends a DepRequest to the owner of the region.
	DataDep(to UnitID, req DepRequest) error

	// DirectTaskDep sends a DirectRequest to the participant owning the
	// target task.
	DirectTaskDep(to UnitID, req DirectRequest) error

	// Release sends a Release back to the origin of a dependency.
	Release(to UnitID, rel Release) error
}
