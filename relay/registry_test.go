package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/repr"

	"hadydotai/beacon/events"
)

type fakeSubscriber struct {
	id    string
	state atomic.Uint32
	full  bool

	mu  sync.Mutex
	got [][]byte
}

func newFake(id string) *fakeSubscriber { return &fakeSubscriber{id: id} }

func (f *fakeSubscriber) ID() string   { return f.id }
func (f *fakeSubscriber) State() State { return State(f.state.Load()) }

func (f *fakeSubscriber) Send(payload []byte) bool {
	if f.full {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, payload)
	return true
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newFake("a")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(newFake("a")); !errors.Is(err, ErrDuplicateSubscriber) {
		t.Fatalf("expected ErrDuplicateSubscriber, got %v", err)
	}
	if err := reg.Register(nil); !errors.Is(err, ErrNilSubscriber) {
		t.Fatalf("expected ErrNilSubscriber, got %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1", reg.Len())
	}
}

func TestSnapshotKeepsInsertionOrder(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := reg.Register(newFake(id)); err != nil {
			t.Fatal(err)
		}
	}
	reg.Deregister("b")

	subs, cursor := reg.Snapshot()
	var ids []string
	for _, s := range subs {
		ids = append(ids, s.ID())
	}
	if fmt.Sprint(ids) != "[a c d]" || cursor != 0 {
		t.Fatalf("snapshot = %v cursor=%d", ids, cursor)
	}
	if reg.Deregister("b") {
		t.Fatalf("second deregister should report absent")
	}
}

func TestRoundRobinDeliversOncePerSubscriber(t *testing.T) {
	reg := NewRegistry()
	dist := NewDistributor(reg, nil)
	fakes := []*fakeSubscriber{newFake("a"), newFake("b"), newFake("c")}
	for _, f := range fakes {
		if err := reg.Register(f); err != nil {
			t.Fatal(err)
		}
	}

	_, start := reg.Snapshot()
	var order []string
	for range fakes {
		d, err := dist.Distribute(events.Event{Name: "x"})
		if err != nil {
			t.Fatal(err)
		}
		if d.Outcome != OutcomeDelivered {
			t.Fatalf("unexpected delivery %s", repr.String(d))
		}
		order = append(order, d.SubscriberID)
	}

	for _, f := range fakes {
		if f.count() != 1 {
			t.Fatalf("subscriber %s got %d deliveries, want 1", f.id, f.count())
		}
	}
	if fmt.Sprint(order) != "[a b c]" {
		t.Fatalf("order = %v", order)
	}
	if _, end := reg.Snapshot(); end != start {
		t.Fatalf("cursor = %d, want back at %d", end, start)
	}
}

func TestDistributeWithoutSubscribers(t *testing.T) {
	d, err := NewDistributor(NewRegistry(), nil).Distribute(events.Event{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Outcome != OutcomeNoSubscribers || d.SubscriberID != "" {
		t.Fatalf("unexpected delivery %s", repr.String(d))
	}
}

func TestClosedSubscriberIsSkippedButRotationAdvances(t *testing.T) {
	reg := NewRegistry()
	dist := NewDistributor(reg, nil)
	a, b := newFake("a"), newFake("b")
	a.state.Store(uint32(StateClosing))
	_ = reg.Register(a)
	_ = reg.Register(b)

	first, _ := dist.Distribute(events.Event{})
	second, _ := dist.Distribute(events.Event{})
	if first.Outcome != OutcomeSkippedClosed || first.SubscriberID != "a" {
		t.Fatalf("first = %s", repr.String(first))
	}
	if second.Outcome != OutcomeDelivered || second.SubscriberID != "b" {
		t.Fatalf("second = %s", repr.String(second))
	}
	if a.count() != 0 {
		t.Fatalf("closing subscriber received a payload")
	}
}

func TestFullSubscriberQueueIsReported(t *testing.T) {
	reg := NewRegistry()
	f := newFake("a")
	f.full = true
	_ = reg.Register(f)

	d, _ := NewDistributor(reg, nil).Distribute(events.Event{})
	if d.Outcome != OutcomeDroppedBufferFull {
		t.Fatalf("outcome = %s", d.Outcome)
	}
}

func TestDeregisterAtCursorReclamps(t *testing.T) {
	reg := NewRegistry()
	dist := NewDistributor(reg, nil)
	for _, id := range []string{"a", "b", "c"} {
		_ = reg.Register(newFake(id))
	}
	// Move the cursor onto the last subscriber.
	dist.Distribute(events.Event{})
	dist.Distribute(events.Event{})
	if _, cursor := reg.Snapshot(); cursor != 2 {
		t.Fatalf("cursor = %d, want 2", cursor)
	}

	reg.Deregister("c")
	if _, cursor := reg.Snapshot(); cursor != 0 {
		t.Fatalf("cursor = %d, want reset to 0", cursor)
	}
	d, err := dist.Distribute(events.Event{})
	if err != nil || d.Outcome != OutcomeDelivered || d.SubscriberID != "a" {
		t.Fatalf("after deregister: %s err=%v", repr.String(d), err)
	}

	reg.Deregister("a")
	reg.Deregister("b")
	if d, _ := dist.Distribute(events.Event{}); d.Outcome != OutcomeNoSubscribers {
		t.Fatalf("outcome = %s", d.Outcome)
	}
	if _, cursor := reg.Snapshot(); cursor != 0 {
		t.Fatalf("cursor = %d on empty registry", cursor)
	}
}

func TestConcurrentDistributeAndChurn(t *testing.T) {
	reg := NewRegistry()
	dist := NewDistributor(reg, nil)
	stable := []*fakeSubscriber{newFake("s0"), newFake("s1"), newFake("s2"), newFake("s3")}
	for _, f := range stable {
		_ = reg.Register(f)
	}

	const rounds = 200
	var wg sync.WaitGroup
	wg.Go(func() {
		for i := range rounds {
			id := fmt.Sprintf("churn-%d", i)
			_ = reg.Register(newFake(id))
			reg.Deregister(id)
		}
	})
	var delivered atomic.Int64
	for range 4 {
		wg.Go(func() {
			for range rounds {
				d, err := dist.Distribute(events.Event{})
				if err != nil {
					t.Error(err)
					return
				}
				if d.Outcome == OutcomeDelivered {
					delivered.Add(1)
				}
			}
		})
	}
	wg.Wait()

	total := 0
	for _, f := range stable {
		total += f.count()
	}
	if delivered.Load() < int64(total) {
		t.Fatalf("stable subscribers saw %d payloads but only %d deliveries reported", total, delivered.Load())
	}
	if reg.Len() != len(stable) {
		t.Fatalf("len = %d, want %d", reg.Len(), len(stable))
	}
	if _, cursor := reg.Snapshot(); cursor < 0 || cursor >= len(stable) {
		t.Fatalf("cursor %d out of range", cursor)
	}
}
