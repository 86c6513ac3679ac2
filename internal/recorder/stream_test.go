package recorder

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/shadowtap/event"
)

type fakeSource struct {
	mu   sync.Mutex
	html string
	subs map[int]func(Change)
	next int
}

func newFakeSource(html string) *fakeSource {
	return &fakeSource{html: html, subs: make(map[int]func(Change))}
}

func (s *fakeSource) URL() string { return "https://example.com/app" }

func (s *fakeSource) Snapshot(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html, nil
}

func (s *fakeSource) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeSource) push(c Change) {
	s.mu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (s *fakeSource) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type collector struct {
	mu     sync.Mutex
	events []event.RecorderEvent
}

func (c *collector) emit(ev event.RecorderEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []event.RecorderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.RecorderEvent(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, n int) []event.RecorderEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := c.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(c.snapshot()))
	return nil
}

func TestStream_StartsWithMetaAndSnapshot(t *testing.T) {
	src := newFakeSource(`<html><head></head><body><input type="password" value="secret123"></body></html>`)
	eng, err := New(Config{Source: src})
	if err != nil {
		t.Fatal(err)
	}
	var col collector
	h, err := eng.Record(context.Background(), Options{Emit: col.emit})
	if err != nil {
		t.Fatal(err)
	}
	evs := col.waitFor(t, 2)
	h.Stop()

	if evs[0].Type != event.TypeMeta {
		t.Errorf("first event: got type %d, want meta", evs[0].Type)
	}
	snap, ok := evs[1].Data.(*event.SnapshotData)
	if !ok || evs[1].Type != event.TypeFullSnapshot {
		t.Fatalf("second event: got %+v", evs[1])
	}
	if strings.Contains(snap.HTML, "secret123") {
		t.Error("snapshot leaked a password value")
	}
	if snap.HTMLHash != event.HashHTML([]byte(snap.HTML)) {
		t.Error("hash does not match html")
	}
}

func TestStream_MutationsBatchedAndStopFlushes(t *testing.T) {
	src := newFakeSource(`<html></html>`)
	eng, _ := New(Config{Source: src, DebounceWindow: time.Hour})
	var col collector
	h, _ := eng.Record(context.Background(), Options{Emit: col.emit})
	col.waitFor(t, 2)

	for _, v := range []string{"a", "b", "c"} {
		src.push(Change{Mutation: &event.Record{Op: event.OpAttr, XPath: "div", Name: "class", Value: v}})
	}
	src.push(Change{Mutation: &event.Record{Op: event.OpAttr, XPath: "input", Name: "value", Value: "pw"}, Password: true})

	h.Stop()
	evs := col.snapshot()
	if len(evs) != 3 {
		t.Fatalf("events: got %d, want meta+snapshot+batch", len(evs))
	}
	md, ok := evs[2].Data.(*event.MutationData)
	if !ok {
		t.Fatalf("batch: got %T", evs[2].Data)
	}
	if md.Seq != 1 || len(md.Records) != 2 {
		t.Errorf("batch: seq %d, %d records; want 1, 2", md.Seq, len(md.Records))
	}
	if md.Records[1].Value != event.PasswordMask {
		t.Errorf("password attr: got %q", md.Records[1].Value)
	}
	if md.SnapshotRef != evs[1].Data.(*event.SnapshotData).ID {
		t.Error("batch not chained to the snapshot")
	}
	if src.subscribers() != 0 {
		t.Error("still subscribed after Stop")
	}
	h.Stop()
}

func TestStream_ScrollAndCheckpointCadence(t *testing.T) {
	src := newFakeSource(`<html></html>`)
	eng, _ := New(Config{Source: src})
	var col collector
	h, _ := eng.Record(context.Background(), Options{Emit: col.emit, CheckoutEveryN: 3})
	col.waitFor(t, 2)

	for y := 1.0; y <= 3; y++ {
		src.push(Change{Scroll: &event.ScrollData{Y: y}})
	}
	evs := col.waitFor(t, 6)
	h.Stop()

	for i := 2; i < 5; i++ {
		if !evs[i].IsScroll() {
			t.Errorf("event %d: got type %d, want scroll", i, evs[i].Type)
		}
	}
	snap, ok := evs[5].Data.(*event.SnapshotData)
	if !ok || !snap.Checkpoint {
		t.Errorf("event 5: got %+v, want checkpoint snapshot", evs[5])
	}
}

func TestStream_ResetEmitsDocResetAndSnapshot(t *testing.T) {
	src := newFakeSource(`<html></html>`)
	eng, _ := New(Config{Source: src})
	var col collector
	h, _ := eng.Record(context.Background(), Options{Emit: col.emit})
	col.waitFor(t, 2)

	src.push(Change{Reset: true})
	evs := col.waitFor(t, 4)
	h.Stop()

	md, ok := evs[2].Data.(*event.MutationData)
	if !ok || len(md.Records) != 1 || md.Records[0].Op != event.OpDocReset {
		t.Errorf("event 2: got %+v, want doc_reset batch", evs[2].Data)
	}
	if evs[3].Type != event.TypeFullSnapshot {
		t.Errorf("event 3: got type %d, want full snapshot", evs[3].Type)
	}
}

func TestStream_CancelledContext(t *testing.T) {
	src := newFakeSource(`<html></html>`)
	eng, _ := New(Config{Source: src})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Record(ctx, Options{}); err == nil {
		t.Error("Record on a cancelled context succeeded")
	}
	if _, err := New(Config{}); err == nil {
		t.Error("New without source succeeded")
	}
}
