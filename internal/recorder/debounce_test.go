package recorder

import (
	"testing"
	"time"

	"github.com/hazyhaar/shadowtap/event"
)

func TestCompress_ConsecutiveAttr(t *testing.T) {
	records := []event.Record{
		{Op: event.OpAttr, XPath: "/div", Name: "class", Value: "a", OldValue: "orig"},
		{Op: event.OpAttr, XPath: "/div", Name: "class", Value: "b", OldValue: "a"},
		{Op: event.OpAttr, XPath: "/div", Name: "class", Value: "c", OldValue: "b"},
	}

	got := compress(records)
	if len(got) != 1 {
		t.Fatalf("compress: got %d records, want 1", len(got))
	}
	if got[0].Value != "c" {
		t.Errorf("Value: got %q, want %q", got[0].Value, "c")
	}
	if got[0].OldValue != "orig" {
		t.Errorf("OldValue: got %q, want %q", got[0].OldValue, "orig")
	}
}

func TestCompress_ConsecutiveText(t *testing.T) {
	records := []event.Record{
		{Op: event.OpText, XPath: "div/p[1]", Value: "a", OldValue: "orig"},
		{Op: event.OpText, XPath: "div/p[1]", Value: "b", OldValue: "a"},
		{Op: event.OpText, XPath: "div/p[1]", Value: "final", OldValue: "b"},
	}

	got := compress(records)
	if len(got) != 1 {
		t.Fatalf("compress: got %d records, want 1", len(got))
	}
	if got[0].Value != "final" || got[0].OldValue != "orig" {
		t.Errorf("got %q/%q, want final/orig", got[0].Value, got[0].OldValue)
	}
}

// The same structural path in two shadow scopes is two different nodes.
func TestCompress_DistinctScopes(t *testing.T) {
	records := []event.Record{
		{Op: event.OpAttr, XPath: "div", Chain: []string{"x-a"}, Name: "class", Value: "1"},
		{Op: event.OpAttr, XPath: "div", Chain: []string{"x-b"}, Name: "class", Value: "2"},
		{Op: event.OpAttr, XPath: "div", Chain: []string{"x-b"}, Name: "class", Value: "3"},
	}
	got := compress(records)
	if len(got) != 2 {
		t.Fatalf("compress: got %d records, want 2", len(got))
	}
	if got[1].Value != "3" {
		t.Errorf("second scope: got %q, want 3", got[1].Value)
	}
}

func TestCompress_StructuralNeverCompressed(t *testing.T) {
	records := []event.Record{
		{Op: event.OpInsert, XPath: "/div/a"},
		{Op: event.OpInsert, XPath: "/div/a"},
		{Op: event.OpShadow, XPath: "/div/a"},
		{Op: event.OpRemove, XPath: "/div/a"},
		{Op: event.OpDocReset},
	}
	if got := compress(records); len(got) != len(records) {
		t.Fatalf("compress: got %d records, want %d", len(got), len(records))
	}
}

func TestCompress_InterleavedNotMerged(t *testing.T) {
	records := []event.Record{
		{Op: event.OpAttr, XPath: "/div", Name: "class", Value: "a"},
		{Op: event.OpAttr, XPath: "/div", Name: "id", Value: "x"},
		{Op: event.OpAttr, XPath: "/div", Name: "class", Value: "b"},
	}
	if got := compress(records); len(got) != 3 {
		t.Fatalf("compress: got %d records, want 3", len(got))
	}
}

func TestDebouncer_MaxBufferFlushes(t *testing.T) {
	var batches [][]event.Record
	d := newDebouncer(debounceConfig{Window: time.Hour, MaxBuffer: 3}, func(r []event.Record) {
		batches = append(batches, r)
	})
	for i := 0; i < 3; i++ {
		d.add(event.Record{Op: event.OpInsert, XPath: "/x"})
	}
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("batches: got %v", batches)
	}
	if d.timerC() != nil {
		t.Error("timer left running after flush")
	}
}

func TestDebouncer_WindowExpires(t *testing.T) {
	var batches [][]event.Record
	d := newDebouncer(debounceConfig{Window: 5 * time.Millisecond}, func(r []event.Record) {
		batches = append(batches, r)
	})
	d.add(event.Record{Op: event.OpRemove, XPath: "/a"})
	select {
	case <-d.timerC():
		d.flush()
	case <-time.After(2 * time.Second):
		t.Fatal("window never expired")
	}
	if len(batches) != 1 {
		t.Errorf("batches: got %d, want 1", len(batches))
	}
	d.flush()
	if len(batches) != 1 {
		t.Error("empty flush emitted a batch")
	}
}
