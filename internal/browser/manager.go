// CLAUDE:SUMMARY Chrome lifecycle for taps: launch or remote connect, heap and age based recycling, recycle listeners.
// Package browser owns the Chrome process shadowtap drives: launch or
// connect via rod, watch JS heap usage and process age, and recycle
// Chrome when either limit is crossed. Taps register for recycle
// notifications so they can stop recording before the pages go away and
// reattach afterwards.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Mode selects how Chrome runs.
type Mode int

const (
	ModeHeadless Mode = iota // headless + stealth patches
	ModeHeadful              // headful on an Xvfb display
)

// ParseMode maps a config string to a Mode. Empty means headless.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "headless":
		return ModeHeadless, nil
	case "headful":
		return ModeHeadful, nil
	}
	return 0, fmt.Errorf("browser: unknown mode %q", s)
}

func (m Mode) String() string {
	if m == ModeHeadful {
		return "headful"
	}
	return "headless"
}

// ErrClosed is returned by a closed Manager.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures a Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an existing Chrome. Empty
	// launches a local one.
	RemoteURL string
	// MemoryLimit is the JS heap, summed over pages, above which Chrome is
	// recycled. Default: 1 GiB.
	MemoryLimit int64
	// RecycleInterval is the maximum lifetime of one Chrome process.
	// Default: 4h.
	RecycleInterval time.Duration
	// CheckInterval is how often limits are checked. Default: 30s.
	CheckInterval time.Duration
	// ResourceBlocking lists resource types new tabs block:
	// images, fonts, media, stylesheets.
	ResourceBlocking []string
	Mode             Mode
	// XvfbDisplay is used in headful mode. Default: ":99".
	XvfbDisplay string
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleListener is told about a recycle. Before runs while the old
// browser is still up; After receives the new one.
type RecycleListener struct {
	Before func()
	After  func(b *rod.Browser)
}

// Manager owns one Chrome process at a time.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	browser   *rod.Browser
	lnch      *launcher.Launcher
	xvfb      *exec.Cmd
	startAt   time.Time
	closed    bool
	listeners []RecycleListener
}

// NewManager creates a Manager. Start launches Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OnRecycle registers l for every later recycle.
func (m *Manager) OnRecycle(l RecycleListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Start launches or connects to Chrome and starts the limit monitor, which
// runs until ctx is done.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()
	go m.monitor(ctx)
	return b, nil
}

// Browser returns the current browser, nil before Start or after Close.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome, notifying listeners around the restart.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	listeners := append([]RecycleListener(nil), m.listeners...)
	uptime := time.Since(m.startAt)
	m.mu.Unlock()

	m.cfg.Logger.Info("browser: recycling", "uptime", uptime)
	for _, l := range listeners {
		if l.Before != nil {
			l.Before()
		}
	}

	m.mu.Lock()
	m.cleanup()
	b, err := m.launch()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	m.mu.Unlock()

	for _, l := range listeners {
		if l.After != nil {
			l.After(b)
		}
	}
	m.cfg.Logger.Info("browser: recycled")
	return nil
}

// Close shuts Chrome and Xvfb down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Mode == ModeHeadful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(m.cfg.Mode != ModeHeadful).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Mode == ModeHeadful {
			l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched chrome", "url", wsURL, "mode", m.cfg.Mode)
	} else {
		log.Info("browser: connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close failed", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, startAt := m.closed, m.browser, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		reason := ""
		if time.Since(startAt) > m.cfg.RecycleInterval {
			reason = "age"
		} else if used, err := heapUsed(b); err != nil {
			m.cfg.Logger.Debug("browser: heap check failed", "error", err)
		} else if used > m.cfg.MemoryLimit {
			reason = "memory"
			m.cfg.Logger.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
		}
		if reason == "" {
			continue
		}
		if err := m.Recycle(); err != nil {
			m.cfg.Logger.Error("browser: recycle failed", "reason", reason, "error", err)
		}
	}
}

// heapUsed sums JSHeapUsedSize over the browser's pages.
func heapUsed(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, fmt.Errorf("browser: list pages: %w", err)
	}
	var total float64
	for _, p := range pages {
		if err := (proto.PerformanceEnable{}).Call(p); err != nil {
			continue
		}
		res, err := proto.PerformanceGetMetrics{}.Call(p)
		if err != nil {
			continue
		}
		total += metric(res.Metrics, "JSHeapUsedSize")
	}
	return int64(total), nil
}

func metric(ms []*proto.PerformanceMetric, name string) float64 {
	for _, m := range ms {
		if m.Name == name {
			return m.Value
		}
	}
	return 0
}
