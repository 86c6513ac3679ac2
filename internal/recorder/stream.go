package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/idgen"
)

// Config configures a Stream engine.
type Config struct {
	Source         Source
	DebounceWindow time.Duration
	DebounceMax    int
	// Buffer is the capacity of the change queue between the source and the
	// recording loop. Default: 4096.
	Buffer int
	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.Buffer <= 0 {
		c.Buffer = 4096
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stream records a Source. Each Record call starts an independent
// recording with its own loop goroutine.
type Stream struct {
	cfg Config
}

// New creates a Stream engine.
func New(cfg Config) (*Stream, error) {
	if cfg.Source == nil {
		return nil, errors.New("recorder: source is required")
	}
	cfg.defaults()
	return &Stream{cfg: cfg}, nil
}

// Record starts a recording. The meta event and the first full snapshot
// are emitted from the recording goroutine, so Record never waits on the
// source and may be called while the caller holds the page.
func (s *Stream) Record(ctx context.Context, opts Options) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recorder: record: %w", err)
	}
	opts.defaults()

	ctx, cancel := context.WithCancel(ctx)
	r := &recording{
		cfg:       s.cfg,
		opts:      opts,
		logger:    s.cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		sessionID: idgen.New(),
		changes:   make(chan Change, s.cfg.Buffer),
		stopReq:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.debouncer = newDebouncer(debounceConfig{
		Window:    s.cfg.DebounceWindow,
		MaxBuffer: s.cfg.DebounceMax,
	}, r.emitBatch)
	r.unsubscribe = s.cfg.Source.Subscribe(r.enqueue)

	go r.loop()
	return r, nil
}

type recording struct {
	cfg    Config
	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	sessionID   string
	changes     chan Change
	unsubscribe func()
	debouncer   *debouncer

	seq         uint64
	snapshotRef string
	sinceCheck  int
	dropped     atomic.Int64

	stopOnce sync.Once
	stopReq  chan struct{}
	done     chan struct{}
}

// enqueue is the Source callback. It never blocks the page.
func (r *recording) enqueue(c Change) {
	select {
	case r.changes <- c:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			r.logger.Warn("recorder: change queue full, dropping", "dropped", n)
		}
	}
}

// Stop flushes and ends the recording, waiting for the loop to exit.
func (r *recording) Stop() {
	r.stopOnce.Do(func() {
		r.unsubscribe()
		close(r.stopReq)
	})
	<-r.done
}

func (r *recording) loop() {
	defer close(r.done)
	defer r.cancel()
	defer r.stopOnce.Do(r.unsubscribe)

	r.emit(event.RecorderEvent{
		Type:      event.TypeMeta,
		Timestamp: r.now(),
		Data:      &event.MetaData{Href: r.cfg.Source.URL(), SessionID: r.sessionID},
	})
	r.emitSnapshot(false)

	ticker := time.NewTicker(r.opts.CheckoutEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.debouncer.flush()
			return

		case <-r.stopReq:
			r.drain()
			r.debouncer.flush()
			r.logger.Debug("recorder: stopped", "session", r.sessionID, "seq", r.seq)
			return

		case c := <-r.changes:
			r.handle(c)

		case <-r.debouncer.timerC():
			r.debouncer.flush()

		case <-ticker.C:
			r.checkpoint()
		}
	}
}

// drain handles changes already queued when Stop was requested.
func (r *recording) drain() {
	for {
		select {
		case c := <-r.changes:
			r.handle(c)
		default:
			return
		}
	}
}

func (r *recording) handle(c Change) {
	switch {
	case c.Reset:
		r.debouncer.flush()
		r.emitBatch([]event.Record{{Op: event.OpDocReset}})
		r.emitSnapshot(false)

	case c.Scroll != nil:
		ts := r.now()
		if !c.At.IsZero() {
			ts = c.At.UnixMilli()
		}
		r.emit(event.NewScroll(ts, *c.Scroll))
		r.countIncremental()

	case c.Mutation != nil:
		r.debouncer.add(maskRecord(*c.Mutation, c.Password))
	}
}

func (r *recording) emitBatch(records []event.Record) {
	if len(records) == 0 {
		return
	}
	r.seq++
	r.emit(event.NewMutation(r.now(), event.MutationData{
		Seq:         r.seq,
		Records:     records,
		SnapshotRef: r.snapshotRef,
	}))
	r.countIncremental()
}

func (r *recording) countIncremental() {
	r.sinceCheck++
	if r.sinceCheck >= r.opts.CheckoutEveryN {
		r.checkpoint()
	}
}

func (r *recording) checkpoint() {
	r.debouncer.flush()
	r.emitSnapshot(true)
}

func (r *recording) emitSnapshot(checkpoint bool) {
	r.sinceCheck = 0
	doc, err := r.cfg.Source.Snapshot(r.ctx)
	if err != nil {
		r.logger.Error("recorder: snapshot failed", "session", r.sessionID, "error", err)
		return
	}
	doc = maskDocument(doc)
	snap := &event.SnapshotData{
		ID:         idgen.New(),
		URL:        r.cfg.Source.URL(),
		HTML:       doc,
		HTMLHash:   event.HashHTML([]byte(doc)),
		Checkpoint: checkpoint,
	}
	r.snapshotRef = snap.ID
	r.emit(event.RecorderEvent{Type: event.TypeFullSnapshot, Timestamp: r.now(), Data: snap})
	r.logger.Debug("recorder: snapshot emitted",
		"session", r.sessionID, "id", snap.ID, "size", len(doc), "checkpoint", checkpoint)
}

func (r *recording) emit(ev event.RecorderEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recorder: emit panicked", "error", fmt.Sprint(p))
		}
	}()
	r.opts.Emit(ev)
}

func (r *recording) now() int64 { return r.cfg.Now().UnixMilli() }
