package recorder

import (
	"slices"
	"time"

	"github.com/hazyhaar/shadowtap/event"
)

// debounceConfig controls the batching behaviour.
type debounceConfig struct {
	// Window is the debounce time. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many records accumulate. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 250 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 1000
	}
}

// debouncer collects mutation records and hands compressed batches to
// flushFn when the window expires or the buffer fills. It is driven by the
// recording loop and is not safe for concurrent use.
type debouncer struct {
	cfg     debounceConfig
	records []event.Record
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]event.Record)
}

func newDebouncer(cfg debounceConfig, flushFn func([]event.Record)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		records: make([]event.Record, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add buffers rec. It reports whether the buffer filled and was flushed.
func (d *debouncer) add(rec event.Record) bool {
	d.records = append(d.records, rec)

	if len(d.records) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC fires when the window expires. Nil while nothing is buffered.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.records) == 0 {
		return
	}
	batch := compress(d.records)
	d.records = make([]event.Record, 0, d.cfg.MaxBuffer)
	d.flushFn(batch)
}

// compress collapses runs of redundant records:
//   - consecutive attr on the same (node, name) keep the last value and the
//     first old_value
//   - consecutive text on the same node likewise
//   - insert, remove, shadow and doc_reset are never compressed
func compress(records []event.Record) []event.Record {
	if len(records) <= 1 {
		return records
	}

	result := make([]event.Record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]
		switch rec.Op {
		case event.OpAttr, event.OpText:
			firstOld := rec.OldValue
			j := i + 1
			for j < len(records) && records[j].Op == rec.Op && sameTarget(records[j], rec) {
				rec = records[j]
				j++
			}
			rec.OldValue = firstOld
			result = append(result, rec)
			i = j - 1
		default:
			result = append(result, rec)
		}
	}
	return result
}

func sameTarget(a, b event.Record) bool {
	return a.XPath == b.XPath && a.Name == b.Name && slices.Equal(a.Chain, b.Chain)
}
