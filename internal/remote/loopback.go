package remote

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"weft/internal/gptr"
)

// Bus is an in-process message bus connecting several participants.
// Every endpoint encodes outbound messages through the msgpack framing
// so the wire path is exercised even without a network.
type Bus struct {
	eps []*Endpoint
}

// NewBus creates a bus with one endpoint per participant.
func NewBus(units int) (*Bus, error) {
	if units <= 0 {
		return nil, fmt.Errorf("bus needs at least one unit, got %d", units)
	}
	b := &Bus{eps: make([]*Endpoint, units)}
	for i := range b.eps {
		b.eps[i] = &Endpoint{bus: b, self: gptr.UnitID(i)}
	}
	return b, nil
}

// NumUnits returns the number of participants on the bus.
func (b *Bus) NumUnits() int {
	return len(b.eps)
}

// Endpoint returns the transport endpoint of a participant.
func (b *Bus) Endpoint(u gptr.UnitID) (*Endpoint, error) {
	if int(u) < 0 || int(u) >= len(b.eps) {
		return nil, fmt.Errorf("unit %d is not on the bus (%d units)", u, len(b.eps))
	}
	return b.eps[u], nil
}

// Endpoint is one participant's view of the bus. It implements
// Transport.
type Endpoint struct {
	bus  *Bus
	self gptr.UnitID

	mu      sync.Mutex
	inbound [][]byte
	closed  bool

	handlerMu sync.Mutex
	handler   Handler

	// dispatchMu serializes message dispatch; concurrent pollers
	// skip progress instead of queueing behind each other.
	dispatchMu sync.Mutex
}

var _ Transport = (*Endpoint)(nil)

// Init binds the endpoint to its handler. The unit id must match the
// endpoint's position on the bus.
func (e *Endpoint) Init(self UnitID, h Handler) error {
	if self != e.self {
		return fmt.Errorf("endpoint belongs to unit %d, not %d", e.self, self)
	}
	if h == nil {
		return errors.New("transport handler must not be nil")
	}
	e.handlerMu.Lock()
	e.handler = h
	e.handlerMu.Unlock()
	return nil
}

// Fini detaches the handler and drops undelivered messages.
func (e *Endpoint) Fini() error {
	e.handlerMu.Lock()
	e.handler = nil
	e.handlerMu.Unlock()
	e.mu.Lock()
	e.inbound = nil
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Progress serves currently queued inbound messages. If another worker
// is already dispatching, Progress returns immediately.
func (e *Endpoint) Progress() error {
	if !e.dispatchMu.TryLock() {
		return nil
	}
	defer e.dispatchMu.Unlock()
	_, err := e.serveQueued()
	return err
}

// ProgressBlocking serves inbound messages until the local queue stays
// empty.
func (e *Endpoint) ProgressBlocking() error {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	for {
		n, err := e.serveQueued()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (e *Endpoint) serveQueued() (int, error) {
	e.mu.Lock()
	batch := e.inbound
	e.inbound = nil
	e.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	e.handlerMu.Lock()
	h := e.handler
	e.handlerMu.Unlock()
	if h == nil {
		return 0, errors.New("transport progressed before Init")
	}

	var errs []error
	for _, buf := range batch {
		if err := e.dispatch(h, buf); err != nil {
			errs = append(errs, err)
		}
	}
	return len(batch), errors.Join(errs...)
}

func (e *Endpoint) dispatch(h Handler, buf []byte) error {
	f, err := decodeFrame(buf)
	if err != nil {
		return err
	}
	switch f.Kind {
	case frameDepRequest:
		var req DepRequest
		if err := unmarshalPayload(f.Payload, &req); err != nil {
			return err
		}
		return h.HandleDepRequest(req)
	case frameDirectRequest:
		var req DirectRequest
		if err := unmarshalPayload(f.Payload, &req); err != nil {
			return err
		}
		return h.HandleDirectRequest(req)
	case frameRelease:
		var rel Release
		if err := unmarshalPayload(f.Payload, &rel); err != nil {
			return err
		}
		return h.HandleRelease(rel)
	default:
		return fmt.Errorf("unknown frame kind %d", f.Kind)
	}
}

// DataDep sends a DepRequest to the owner of the region.
func (e *Endpoint) DataDep(to UnitID, req DepRequest) error {
	return e.send(to, frameDepRequest, req)
}

// DirectTaskDep sends a DirectRequest to the participant owning the
// target task.
func (e *Endpoint) DirectTaskDep(to UnitID, req DirectRequest) error {
	return e.send(to, frameDirectRequest, req)
}

// Release sends a Release back to the origin of a dependency.
func (e *Endpoint) Release(to UnitID, rel Release) error {
	return e.send(to, frameRelease, rel)
}

func (e *Endpoint) send(to UnitID, kind uint8, msg any) error {
	dst, err := e.bus.Endpoint(to)
	if err != nil {
		return err
	}
	buf, err := encodeFrame(kind, msg)
	if err != nil {
		return err
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.closed {
		return fmt.Errorf("unit %d has left the bus", to)
	}
	dst.inbound = append(dst.inbound, buf)
	return nil
}

func unmarshalPayload(payload []byte, dst any) error {
	if err := msgpack.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
