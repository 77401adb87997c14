package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/finchops/finch/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// recordingSubscriber collects every event it handles.
type recordingSubscriber struct {
	name string
	mu   sync.Mutex
	seen []*model.Event
	done chan struct{} // closed-ish signal: receives one token per event
}

func newRecording(name string) *recordingSubscriber {
	return &recordingSubscriber{name: name, done: make(chan struct{}, 1024)}
}

func (r *recordingSubscriber) Name() string { return r.name }

func (r *recordingSubscriber) Handle(ctx context.Context, e *model.Event) error {
	r.mu.Lock()
	r.seen = append(r.seen, e)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

// wait blocks until n events were handled or the timeout elapses.
func (r *recordingSubscriber) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-deadline:
			t.Fatalf("subscriber %s: timed out waiting for event %d of %d", r.name, i+1, n)
		}
	}
}

func (r *recordingSubscriber) events() []*model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Event(nil), r.seen...)
}

type failingSubscriber struct{ calls int }

func (f *failingSubscriber) Name() string { return "failing" }
func (f *failingSubscriber) Handle(ctx context.Context, e *model.Event) error {
	f.calls++
	return errors.New("boom")
}

type panickingSubscriber struct{}

func (panickingSubscriber) Name() string { return "panicking" }
func (panickingSubscriber) Handle(ctx context.Context, e *model.Event) error {
	panic("handler blew up")
}

func testEvent(id string) *model.Event {
	return &model.Event{
		Source:     model.SourceAPI,
		EntityType: model.EntityInvoice,
		EventType:  model.EventStatusChanged,
		EntityID:   id,
		OrgID:      "org-1",
		OldValue:   "sent",
		NewValue:   "overdue",
	}
}

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	a := newRecording("a")
	b := newRecording("b")
	bus := New(testLogger(), []Subscriber{a, b})
	defer bus.Close()

	bus.Publish(context.Background(), testEvent("inv-1"))

	a.wait(t, 1)
	b.wait(t, 1)
	if got := a.events(); len(got) != 1 || got[0].EntityID != "inv-1" {
		t.Errorf("subscriber a saw %v, want one inv-1 event", got)
	}
}

func TestPublish_FailureIsolation(t *testing.T) {
	fail := &failingSubscriber{}
	ok := newRecording("ok")
	// The failing lane is listed first so a propagated error would be visible.
	bus := New(testLogger(), []Subscriber{fail, panickingSubscriber{}, ok})
	defer bus.Close()

	bus.Publish(context.Background(), testEvent("inv-2"))
	ok.wait(t, 1)

	if len(ok.events()) != 1 {
		t.Errorf("healthy subscriber got %d events, want 1", len(ok.events()))
	}
}

func TestPublish_CallerRunsWhenSaturated(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	var inline int
	slow := subscriberFunc{name: "slow", fn: func(ctx context.Context, e *model.Event) error {
		if e.EntityID == "overflow" {
			inline++ // runs on the publishing goroutine
			return nil
		}
		if e.EntityID == "busy" {
			close(started)
			<-block
		}
		return nil
	}}

	bus := New(testLogger(), []Subscriber{slow}, WithQueueSize(1))
	defer func() {
		close(block)
		bus.Close()
	}()

	// First event occupies the worker, second fills the queue.
	bus.Publish(context.Background(), testEvent("busy"))
	<-started
	bus.Publish(context.Background(), testEvent("queued"))

	// Queue is full now; this must run inline and return.
	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), testEvent("overflow"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked instead of applying caller-runs")
	}
	if inline != 1 {
		t.Errorf("inline executions = %d, want 1", inline)
	}
}

type subscriberFunc struct {
	name string
	fn   func(ctx context.Context, e *model.Event) error
}

func (s subscriberFunc) Name() string                                        { return s.name }
func (s subscriberFunc) Handle(ctx context.Context, e *model.Event) error    { return s.fn(ctx, e) }

func TestPublish_FIFOPerPublisher(t *testing.T) {
	rec := newRecording("ordered")
	bus := New(testLogger(), []Subscriber{rec})
	defer bus.Close()

	const n = 50
	for i := 0; i < n; i++ {
		bus.Publish(context.Background(), testEvent(fmt.Sprintf("inv-%03d", i)))
	}
	rec.wait(t, n)

	got := rec.events()
	for i, e := range got {
		want := fmt.Sprintf("inv-%03d", i)
		if e.EntityID != want {
			t.Fatalf("event %d = %s, want %s", i, e.EntityID, want)
		}
	}
}

func TestPublish_MissingOrgDropped(t *testing.T) {
	rec := newRecording("rec")
	bus := New(testLogger(), []Subscriber{rec})
	defer bus.Close()

	e := testEvent("inv-3")
	e.OrgID = ""
	bus.Publish(context.Background(), e)

	// Publish a valid event and wait for it; the invalid one must not appear.
	bus.Publish(context.Background(), testEvent("inv-4"))
	rec.wait(t, 1)
	if got := rec.events(); len(got) != 1 || got[0].EntityID != "inv-4" {
		t.Errorf("got %v, want only inv-4", got)
	}
}

func TestPublish_AfterCloseIsNoop(t *testing.T) {
	rec := newRecording("rec")
	bus := New(testLogger(), []Subscriber{rec})
	bus.Close()

	bus.Publish(context.Background(), testEvent("inv-5"))
	if len(rec.events()) != 0 {
		t.Errorf("subscriber received events after close")
	}
}

func TestPublish_DetachesCancellation(t *testing.T) {
	got := make(chan error, 1)
	sub := subscriberFunc{name: "ctx", fn: func(ctx context.Context, e *model.Event) error {
		got <- ctx.Err()
		return nil
	}}
	bus := New(testLogger(), []Subscriber{sub})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, testEvent("inv-6"))

	select {
	case err := <-got:
		if err != nil {
			t.Errorf("handler context canceled: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
}
