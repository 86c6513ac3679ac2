// CLAUDE:SUMMARY Daemon orchestrator: Chrome manager, one mirrored tab and Tap per configured page, shared sink router, recycle handling.
package shadowtap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/hazyhaar/shadowtap/internal/browser"
	"github.com/hazyhaar/shadowtap/internal/control"
	"github.com/hazyhaar/shadowtap/internal/locator"
	"github.com/hazyhaar/shadowtap/internal/mirror"
	"github.com/hazyhaar/shadowtap/internal/sink"
)

// Daemon runs Chrome and one tap per configured page. Create one per
// shadowtap instance.
type Daemon struct {
	cfg    *Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	status control.StatusSource
	logger *slog.Logger

	mu    sync.Mutex
	pages map[string]*tapPage
}

// tapPage is one tapped tab.
type tapPage struct {
	cfg    PageConfig
	tap    *Tap
	tab    *browser.Tab
	mirror *mirror.Page
	// resume restores recording after a browser recycle.
	resume bool
}

// NewDaemon creates a Daemon from configuration. Messages of every tap go
// to sinks through one router, closed by Stop.
func NewDaemon(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	locator.SetLogger(logger)
	mode, err := browser.ParseMode(cfg.Browser.Mode)
	if err != nil {
		return nil, fmt.Errorf("shadowtap: %w", err)
	}

	var status control.StatusSource = control.Static(cfg.Control.Record)
	if cfg.Control.StatusURL != "" {
		status = control.NewHTTPSource(cfg.Control.StatusURL, nil)
	}

	return &Daemon{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			CheckInterval:    cfg.Browser.CheckInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Mode:             mode,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           logger,
		}),
		sinkR:  sink.NewRouter(logger, sinks...),
		status: status,
		logger: logger,
		pages:  make(map[string]*tapPage),
	}, nil
}

// Start launches the browser and taps every configured page. A page that
// fails to open is logged and skipped.
func (d *Daemon) Start(ctx context.Context) error {
	if _, err := d.mgr.Start(ctx); err != nil {
		return fmt.Errorf("shadowtap: start browser: %w", err)
	}
	d.mgr.OnRecycle(browser.RecycleListener{
		Before: d.detachAll,
		After:  func(*rod.Browser) { d.reattachAll(ctx) },
	})

	for _, pc := range d.cfg.Pages {
		if err := d.TapPage(ctx, pc); err != nil {
			d.logger.Error("shadowtap: failed to tap page", "id", pc.ID, "url", pc.URL, "error", err)
		}
	}
	return nil
}

// TapPage opens pc in a new tab, mirrors it and starts a tap, recording
// if the status source says so.
func (d *Daemon) TapPage(ctx context.Context, pc PageConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pages[pc.ID]; ok {
		return fmt.Errorf("shadowtap: page %q already tapped", pc.ID)
	}

	tap, err := NewTap(TapConfig{
		ID:          pc.ID,
		Sink:        d.sinkR,
		ScrollDelay: d.cfg.Scroll.Debounce,
		Recorder: RecorderOptions{
			DebounceWindow: d.cfg.Recorder.DebounceWindow,
			DebounceMax:    d.cfg.Recorder.DebounceMax,
			CheckoutEveryN: d.cfg.Recorder.CheckoutEveryN,
			CheckoutEvery:  d.cfg.Recorder.CheckoutEvery,
		},
		Logger: d.logger.With("tap", pc.ID),
	})
	if err != nil {
		return err
	}
	tp := &tapPage{cfg: pc, tap: tap}
	if err := d.attach(ctx, tp); err != nil {
		tap.Close()
		return err
	}
	d.pages[pc.ID] = tp

	if err := tap.StartFromStatus(ctx, d.status); err != nil {
		d.logger.Warn("shadowtap: initial recording failed", "id", pc.ID, "error", err)
	}
	if d.cfg.Control.StatusURL != "" && d.cfg.Control.PollInterval > 0 {
		go control.Follow(ctx, d.status, d.cfg.Control.PollInterval, tap, d.logger)
	}
	d.logger.Info("shadowtap: tapping page", "id", pc.ID, "url", pc.URL)
	return nil
}

// attach opens the tab for tp and binds its tap. The mirror is attached
// before navigation so the capture script runs in the first document.
func (d *Daemon) attach(ctx context.Context, tp *tapPage) error {
	var mp *mirror.Page
	tab, err := d.mgr.OpenTab(ctx, tp.cfg.URL, func(page *rod.Page) error {
		var err error
		mp, err = mirror.Attach(ctx, page, mirror.Config{
			OnLoad: tp.tap.Install,
			Logger: d.logger.With("tap", tp.cfg.ID),
		})
		return err
	})
	if err != nil {
		return err
	}
	if err := tp.tap.Bind(ctx, mp); err != nil {
		mp.Close()
		tab.Close()
		return err
	}
	tp.tab, tp.mirror = tab, mp
	return nil
}

func (tp *tapPage) detach() {
	if tp.mirror != nil {
		tp.mirror.Close()
		tp.mirror = nil
	}
	if tp.tab != nil {
		tp.tab.Close()
		tp.tab = nil
	}
}

// Controllers returns every tap keyed by page id, for the control API.
func (d *Daemon) Controllers() map[string]control.Controller {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]control.Controller, len(d.pages))
	for id, tp := range d.pages {
		out[id] = tp.tap
	}
	return out
}

// Tap returns the tap of page id.
func (d *Daemon) Tap(id string) (*Tap, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tp, ok := d.pages[id]
	if !ok {
		return nil, false
	}
	return tp.tap, true
}

// detachAll stops recording and closes the tabs before a recycle.
func (d *Daemon) detachAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx := context.Background()
	for id, tp := range d.pages {
		tp.resume = tp.tap.Recording()
		if err := tp.tap.SetRecording(ctx, false); err != nil {
			d.logger.Warn("shadowtap: stop before recycle", "id", id, "error", err)
		}
		tp.detach()
	}
}

// reattachAll reopens every tab on the new browser and restores recording.
func (d *Daemon) reattachAll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, tp := range d.pages {
		if err := d.attach(ctx, tp); err != nil {
			d.logger.Error("shadowtap: reattach after recycle failed", "id", id, "error", err)
			continue
		}
		if tp.resume {
			if err := tp.tap.SetRecording(ctx, true); err != nil {
				d.logger.Warn("shadowtap: resume recording", "id", id, "error", err)
			}
		}
	}
}

// Stop shuts down every tap, the sinks and the browser.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, tp := range d.pages {
		tp.tap.Close()
		tp.detach()
		d.logger.Info("shadowtap: stopped tap", "id", id)
	}
	d.pages = make(map[string]*tapPage)
	d.sinkR.Close()
	d.mgr.Close()
}
