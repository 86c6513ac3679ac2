// Package shadowtap records user interactions on live web pages, shadow
// DOM included. A page is mirrored into a dom.Document; a Tap instruments
// that document (every open and closed shadow root, however it was
// created), turns clicks, inputs, selection changes and navigation keys
// into locator-carrying records, runs the snapshot/delta recorder with
// scroll coalescing, and hands every message to a sink.
//
// Recording is switched with SetRecording, idempotently. The listeners on
// shadow roots stay attached while the root is in the document; only the
// document's own listeners come and go with the recording.
package shadowtap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/shadowtap/dom"
	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/internal/capture"
	"github.com/hazyhaar/shadowtap/internal/control"
	"github.com/hazyhaar/shadowtap/internal/discovery"
	"github.com/hazyhaar/shadowtap/internal/recorder"
	"github.com/hazyhaar/shadowtap/internal/scroll"
)

// Source is a mirrored page: the recorder reads it, and Do grants the
// exclusive document access every instrumentation step needs.
type Source interface {
	recorder.Source
	Do(ctx context.Context, fn func(doc *dom.Document)) error
}

// DiscoveryStats reports shadow roots instrumented per discovery channel.
type DiscoveryStats = discovery.Stats

var (
	// ErrUnbound is returned when recording starts before Bind.
	ErrUnbound = errors.New("shadowtap: tap has no source")
	// ErrTapClosed is returned by a closed Tap.
	ErrTapClosed = errors.New("shadowtap: tap is closed")
)

// RecorderOptions tunes the snapshot/delta stream.
type RecorderOptions struct {
	DebounceWindow time.Duration
	DebounceMax    int
	CheckoutEveryN int
	CheckoutEvery  time.Duration
}

// TapConfig configures a Tap.
type TapConfig struct {
	ID   string
	Sink Sink
	// ScrollDelay is the scroll coalescing window. Default: 500ms.
	ScrollDelay time.Duration
	Recorder    RecorderOptions
	// Channels restricts shadow root discovery. Default: every channel.
	Channels discovery.Channels
	// QueueSize bounds messages waiting for the sink. Default: 1024.
	QueueSize int
	// DrainTimeout bounds how long Close waits for the sink to take the
	// queued messages. Default: 5s.
	DrainTimeout time.Duration
	// FrameURL reports the frame URL of records. Default: the page URL.
	FrameURL func() string
	Logger   *slog.Logger
	Now      func() time.Time

	scheduler scroll.Scheduler
}

func (c *TapConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Tap instruments one page and owns its recording session.
type Tap struct {
	cfg     TapConfig
	logger  *slog.Logger
	session *capture.Session
	coal    *scroll.Coalescer

	// opMu serialises Bind, SetRecording and Close.
	opMu   sync.Mutex
	src    Source
	engine *recorder.Stream
	closed bool

	// Guarded by the source's document lock.
	doc *docState

	ctx     context.Context
	cancel  context.CancelFunc
	qmu     sync.RWMutex
	qclosed bool
	queue   chan event.Message
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// docState is the instrumentation of one loaded document.
type docState struct {
	doc       *dom.Document
	layer     *capture.Layer
	discovery *discovery.Engine
	// roots maps each instrumented shadow root to its listener removal.
	roots map[*dom.ShadowRoot]func()
	// removeListeners detaches the document listeners; nil while not
	// recording.
	removeListeners func()
}

// NewTap creates a tap. Documents reach it through Install, normally as
// the mirror's OnLoad callback, and recording needs a Bind.
func NewTap(cfg TapConfig) (*Tap, error) {
	if cfg.Sink == nil {
		return nil, errors.New("shadowtap: sink is required")
	}
	cfg.defaults()

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tap{
		cfg:     cfg,
		logger:  cfg.Logger,
		session: &capture.Session{},
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan event.Message, cfg.QueueSize),
	}
	t.coal = scroll.New(scroll.Config{
		Emit:      func(ev event.RecorderEvent) { t.enqueue(event.NewRecorder(ev)) },
		Delay:     cfg.ScrollDelay,
		Scheduler: cfg.scheduler,
		Logger:    cfg.Logger,
	})

	t.wg.Add(1)
	go t.deliver()
	return t, nil
}

// ID returns the tap id.
func (t *Tap) ID() string { return t.cfg.ID }

// Bind attaches the tap to src, instrumenting its current document if
// Install has not seen it yet. A tap can be rebound (after a browser
// recycle) while it is not recording.
func (t *Tap) Bind(ctx context.Context, src Source) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	if t.session.Active() {
		return errors.New("shadowtap: bind: tap is recording")
	}
	engine, err := recorder.New(recorder.Config{
		Source:         src,
		DebounceWindow: t.cfg.Recorder.DebounceWindow,
		DebounceMax:    t.cfg.Recorder.DebounceMax,
		Logger:         t.logger,
		Now:            t.cfg.Now,
	})
	if err != nil {
		return fmt.Errorf("shadowtap: bind: %w", err)
	}
	err = src.Do(ctx, func(doc *dom.Document) {
		if t.doc == nil || t.doc.doc != doc {
			t.Install(doc)
		}
	})
	if err != nil {
		return fmt.Errorf("shadowtap: bind: %w", err)
	}
	t.src, t.engine = src, engine
	return nil
}

// Install instruments doc: a capture layer, a discovery engine feeding it
// every shadow root, and the document listeners when recording. It must
// run with exclusive access to doc, which the mirror's OnLoad guarantees.
func (t *Tap) Install(doc *dom.Document) {
	if old := t.doc; old != nil {
		old.discovery.Disconnect()
		if old.removeListeners != nil {
			old.removeListeners()
		}
	}

	frameURL := t.cfg.FrameURL
	if frameURL == nil {
		frameURL = doc.URL
	}
	layer, err := capture.New(capture.Config{
		Session:  t.session,
		Emit:     t.enqueue,
		PageURL:  doc.URL,
		FrameURL: frameURL,
		Now:      t.cfg.Now,
		Logger:   t.logger,
	})
	if err != nil {
		t.logger.Error("shadowtap: capture layer", "error", err)
		return
	}
	st := &docState{
		doc:   doc,
		layer: layer,
		roots: make(map[*dom.ShadowRoot]func()),
	}
	st.discovery = discovery.New(discovery.Config{
		Instrument: func(root *dom.ShadowRoot) error {
			st.roots[root] = layer.Attach(root)
			return nil
		},
		Release: func(root *dom.ShadowRoot) {
			if remove, ok := st.roots[root]; ok {
				remove()
				delete(st.roots, root)
			}
		},
		Channels: t.cfg.Channels,
		Logger:   t.logger,
	})
	if t.session.Active() {
		st.removeListeners = layer.Attach(doc)
	}
	if err := st.discovery.Install(doc); err != nil {
		t.logger.Warn("shadowtap: discovery install failed", "error", err)
	}
	t.doc = st
	t.logger.Info("shadowtap: document instrumented", "tap", t.cfg.ID, "url", doc.URL(),
		"roots", st.discovery.Stats().Total)
}

// Recording reports whether the tap is recording.
func (t *Tap) Recording() bool { return t.session.Active() }

// SetRecording starts or stops recording. Setting the current state is a
// no-op: no recorder is started twice and stopping an idle tap does
// nothing.
func (t *Tap) SetRecording(ctx context.Context, on bool) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if on {
		return t.start(ctx)
	}
	t.stop(ctx)
	return nil
}

// StartFromStatus asks src whether to record and applies the answer. A
// failed query leaves the tap idle.
func (t *Tap) StartFromStatus(ctx context.Context, src control.StatusSource) error {
	if !control.Initial(ctx, src, t.logger) {
		return nil
	}
	return t.SetRecording(ctx, true)
}

func (t *Tap) start(ctx context.Context) error {
	if t.closed {
		return ErrTapClosed
	}
	if t.session.Active() {
		return nil
	}
	if t.src == nil {
		return ErrUnbound
	}

	var (
		started  bool
		startErr error
	)
	err := t.src.Do(ctx, func(*dom.Document) {
		started, startErr = t.session.Start(func() (recorder.Handle, error) {
			return t.engine.Record(t.ctx, recorder.Options{
				Emit:           t.coal.Offer,
				MaskPasswords:  true,
				CheckoutEveryN: t.cfg.Recorder.CheckoutEveryN,
				CheckoutEvery:  t.cfg.Recorder.CheckoutEvery,
			})
		})
		if started && t.doc != nil && t.doc.removeListeners == nil {
			t.doc.removeListeners = t.doc.layer.Attach(t.doc.doc)
		}
	})
	if err != nil {
		return fmt.Errorf("shadowtap: start recording: %w", err)
	}
	if startErr != nil {
		return startErr
	}
	if started {
		t.logger.Info("shadowtap: recording started", "tap", t.cfg.ID, "url", t.src.URL())
	}
	return nil
}

func (t *Tap) stop(ctx context.Context) {
	if !t.session.Active() {
		return
	}
	var h recorder.Handle
	err := t.src.Do(ctx, func(*dom.Document) {
		h = t.session.Stop()
		if h != nil && t.doc != nil && t.doc.removeListeners != nil {
			t.doc.removeListeners()
			t.doc.removeListeners = nil
		}
	})
	if err != nil {
		// Handlers check the session, so listeners left behind are inert.
		t.logger.Warn("shadowtap: stop without document access", "tap", t.cfg.ID, "error", err)
		h = t.session.Stop()
	}
	if h == nil {
		return
	}
	h.Stop()
	t.coal.Flush()
	t.logger.Info("shadowtap: recording stopped", "tap", t.cfg.ID)
}

// Stats reports the shadow roots instrumented in the current document.
func (t *Tap) Stats(ctx context.Context) (DiscoveryStats, error) {
	t.opMu.Lock()
	src := t.src
	t.opMu.Unlock()
	if src == nil {
		return DiscoveryStats{}, ErrUnbound
	}
	var st DiscoveryStats
	err := src.Do(ctx, func(*dom.Document) {
		if t.doc != nil {
			st = t.doc.discovery.Stats()
		}
	})
	return st, err
}

// Dropped returns how many messages were dropped because the sink fell
// behind.
func (t *Tap) Dropped() int64 { return t.dropped.Load() }

// enqueue hands msg to the delivery goroutine. It never blocks: capture
// handlers call it while the page is held.
func (t *Tap) enqueue(msg event.Message) {
	t.qmu.RLock()
	defer t.qmu.RUnlock()
	if t.qclosed {
		return
	}
	select {
	case t.queue <- msg:
	default:
		if n := t.dropped.Add(1); n == 1 || n%1000 == 0 {
			t.logger.Warn("shadowtap: sink queue full, dropping", "tap", t.cfg.ID, "dropped", n)
		}
	}
}

func (t *Tap) deliver() {
	defer t.wg.Done()
	for msg := range t.queue {
		if t.ctx.Err() != nil {
			// Close gave up on the drain.
			t.dropped.Add(1)
			continue
		}
		if err := t.cfg.Sink.Send(t.ctx, msg); err != nil {
			t.logger.Debug("shadowtap: send failed", "tap", t.cfg.ID, "type", msg.Type, "error", err)
		}
	}
}

// Close stops recording, detaches from the document and delivers the
// messages still queued. A sink that has not drained the queue within
// DrainTimeout has its context cancelled and the rest is dropped. The
// sink is left open.
func (t *Tap) Close() error {
	t.opMu.Lock()
	if t.closed {
		t.opMu.Unlock()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.stop(ctx)
	if t.src != nil {
		_ = t.src.Do(ctx, func(*dom.Document) {
			if t.doc != nil {
				t.doc.discovery.Disconnect()
			}
		})
	}
	t.closed = true
	t.opMu.Unlock()

	t.coal.Discard()
	t.qmu.Lock()
	t.qclosed = true
	close(t.queue)
	t.qmu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(t.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		before := t.dropped.Load()
		t.cancel()
		<-done
		t.logger.Warn("shadowtap: sink did not drain in time", "tap", t.cfg.ID,
			"timeout", t.cfg.DrainTimeout, "dropped", t.dropped.Load()-before)
	}
	t.cancel()
	return nil
}
