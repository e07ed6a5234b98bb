// Package remote carries dependency traffic between participants.
// It defines the wire messages, the transport seam the scheduler
// drives, and an in-process loopback transport used by tests and the
// CLI driver. On-wire framing uses msgpack.
package remote

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"weft/internal/gptr"
)

// DepKind is the wire-level dependency type.
type DepKind uint8

const (
	KindIgnore DepKind = iota
	KindIn
	KindOut
	KindInOut
	KindDirect
)

// String returns the string representation of a DepKind.
func (k DepKind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindIn:
		return "in"
	case KindOut:
		return "out"
	case KindInOut:
		return "inout"
	case KindDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// TaskRef is an opaque token identifying a task on its owning
// participant. Refs are minted by the owner and only ever resolved
// back by the owner.
type TaskRef uint64

// Dep is a declared dependency as it travels on the wire.
type Dep struct {
	Kind DepKind  `msgpack:"kind"`
	Ptr  gptr.Ptr `msgpack:"ptr"`
}

// DepRequest asks the owner of a region to satisfy an IN dependency of
// a task living on Origin. Resolution is deferred to the owner's next
// phase boundary.
type DepRequest struct {
	Origin gptr.UnitID `msgpack:"origin"`
	Task   TaskRef     `msgpack:"task"`
	Dep    Dep         `msgpack:"dep"`
	Phase  uint64      `msgpack:"phase"`
}

// DirectRequest tells a participant that Successor (a task on Origin)
// must not run before Target (a task on the receiver) has finished.
type DirectRequest struct {
	Origin    gptr.UnitID `msgpack:"origin"`
	Successor TaskRef     `msgpack:"successor"`
	Target    TaskRef     `msgpack:"target"`
}

// Release notifies Origin that the dependency Dep of its task has been
// delivered and the task may shed one unresolved dependency.
type Release struct {
	Origin gptr.UnitID `msgpack:"origin"`
	Task   TaskRef     `msgpack:"task"`
	Dep    Dep         `msgpack:"dep"`
}

// frame kinds on the loopback bus
const (
	frameDepRequest uint8 = iota + 1
	frameDirectRequest
	frameRelease
)

// frame is the envelope for one message on the bus.
type frame struct {
	Kind    uint8              `msgpack:"kind"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

func encodeFrame(kind uint8, msg any) ([]byte, error) {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	buf, err := msgpack.Marshal(frame{Kind: kind, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf, nil
}

func decodeFrame(buf []byte) (frame, error) {
	var f frame
	if err := msgpack.Unmarshal(buf, &f); err != nil {
		return frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return f, nil
}
