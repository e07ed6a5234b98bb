package remote

import (
	"sync"
	"testing"

	"weft/internal/gptr"
)

// recorder collects every inbound message for inspection.
type recorder struct {
	mu       sync.Mutex
	deps     []DepRequest
	directs  []DirectRequest
	releases []Release
}

func (r *recorder) HandleDepRequest(req DepRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps = append(r.deps, req)
	return nil
}

func (r *recorder) HandleDirectRequest(req DirectRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directs = append(r.directs, req)
	return nil
}

func (r *recorder) HandleRelease(rel Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases = append(r.releases, rel)
	return nil
}

func newTestBus(t *testing.T, units int) (*Bus, []*Endpoint, []*recorder) {
	t.Helper()
	bus, err := NewBus(units)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	eps := make([]*Endpoint, units)
	recs := make([]*recorder, units)
	for i := 0; i < units; i++ {
		ep, err := bus.Endpoint(gptr.UnitID(i))
		if err != nil {
			t.Fatalf("Endpoint(%d): %v", i, err)
		}
		rec := &recorder{}
		if err := ep.Init(gptr.UnitID(i), rec); err != nil {
			t.Fatalf("Init(%d): %v", i, err)
		}
		eps[i] = ep
		recs[i] = rec
	}
	return bus, eps, recs
}

func TestDepRequestRoundTrip(t *testing.T) {
	_, eps, recs := newTestBus(t, 2)

	want := DepRequest{
		Origin: 0,
		Task:   TaskRef(42),
		Dep: Dep{
			Kind: KindIn,
			Ptr:  gptr.Ptr{Unit: 1, Segment: 2, Offset: 0x100},
		},
		Phase: 7,
	}
	if err := eps[0].DataDep(1, want); err != nil {
		t.Fatalf("DataDep: %v", err)
	}
	if err := eps[1].Progress(); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if len(recs[1].deps) != 1 {
		t.Fatalf("expected 1 dep request, got %d", len(recs[1].deps))
	}
	if recs[1].deps[0] != want {
		t.Fatalf("request corrupted on the wire:\nwant %+v\ngot  %+v", want, recs[1].deps[0])
	}
}

func TestDirectAndReleaseRoundTrip(t *testing.T) {
	_, eps, recs := newTestBus(t, 2)

	direct := DirectRequest{Origin: 1, Successor: 5, Target: 9}
	if err := eps[1].DirectTaskDep(0, direct); err != nil {
		t.Fatalf("DirectTaskDep: %v", err)
	}
	rel := Release{Origin: 0, Task: 5, Dep: Dep{Kind: KindDirect, Ptr: gptr.Null()}}
	if err := eps[1].Release(0, rel); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := eps[0].ProgressBlocking(); err != nil {
		t.Fatalf("ProgressBlocking: %v", err)
	}
	if len(recs[0].directs) != 1 || recs[0].directs[0] != direct {
		t.Fatalf("direct request mismatch: %+v", recs[0].directs)
	}
	if len(recs[0].releases) != 1 || recs[0].releases[0] != rel {
		t.Fatalf("release mismatch: %+v", recs[0].releases)
	}
}

func TestProgressPreservesSendOrder(t *testing.T) {
	_, eps, recs := newTestBus(t, 2)

	for i := 0; i < 10; i++ {
		rel := Release{Origin: 1, Task: TaskRef(i)}
		if err := eps[0].Release(1, rel); err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
	}
	if err := eps[1].ProgressBlocking(); err != nil {
		t.Fatalf("ProgressBlocking: %v", err)
	}
	if len(recs[1].releases) != 10 {
		t.Fatalf("expected 10 releases, got %d", len(recs[1].releases))
	}
	for i, rel := range recs[1].releases {
		if rel.Task != TaskRef(i) {
			t.Fatalf("release %d out of order: got task %d", i, rel.Task)
		}
	}
}

func TestSendToUnknownUnit(t *testing.T) {
	_, eps, _ := newTestBus(t, 1)
	if err := eps[0].Release(3, Release{}); err == nil {
		t.Fatalf("expected error sending to unit off the bus")
	}
}

func TestProgressBeforeInit(t *testing.T) {
	bus, err := NewBus(2)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	src, _ := bus.Endpoint(0)
	rec := &recorder{}
	if err := src.Init(0, rec); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := src.Release(1, Release{Origin: 0}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	dst, _ := bus.Endpoint(1)
	if err := dst.Progress(); err == nil {
		t.Fatalf("expected error progressing an unbound endpoint")
	}
}

func TestFiniRejectsLateSends(t *testing.T) {
	_, eps, _ := newTestBus(t, 2)
	if err := eps[1].Fini(); err != nil {
		t.Fatalf("Fini: %v", err)
	}
	if err := eps[0].Release(1, Release{}); err == nil {
		t.Fatalf("expected error sending to a finalized endpoint")
	}
}

func TestConcurrentSenders(t *testing.T) {
	_, eps, recs := newTestBus(t, 3)

	const perSender = 100
	var wg sync.WaitGroup
	for sender := 0; sender < 2; sender++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				rel := Release{Origin: gptr.UnitID(s), Task: TaskRef(i)}
				if err := eps[s].Release(2, rel); err != nil {
					t.Errorf("sender %d: %v", s, err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	if err := eps[2].ProgressBlocking(); err != nil {
		t.Fatalf("ProgressBlocking: %v", err)
	}
	if len(recs[2].releases) != 2*perSender {
		t.Fatalf("expected %d releases, got %d", 2*perSender, len(recs[2].releases))
	}
}
