package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds navigation when opening a tab.
const NavigateTimeout = 30 * time.Second

// Tab is one page opened by the manager.
type Tab struct {
	Page *rod.Page
	URL  string
}

// Setup runs on a fresh page before it navigates. Taps use it to install
// bindings and new-document scripts so they see the page from its start.
type Setup func(page *rod.Page) error

// OpenTab creates a tab, applies stealth in headless mode and resource
// blocking, runs setup, then navigates to pageURL. about:blank skips
// navigation.
func (m *Manager) OpenTab(ctx context.Context, pageURL string, setup Setup) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if m.cfg.Mode == ModeHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		if err := blockResources(page, m.cfg.ResourceBlocking); err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}
	if setup != nil {
		if err := setup(page); err != nil {
			page.Close()
			return nil, fmt.Errorf("browser: tab setup: %w", err)
		}
	}

	if pageURL != "" && pageURL != "about:blank" {
		navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
		defer cancel()
		if err := page.Context(navCtx).Navigate(pageURL); err != nil {
			page.Close()
			return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
		}
		if err := page.Context(navCtx).WaitLoad(); err != nil {
			m.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
		}
	}

	m.cfg.Logger.Info("browser: tab opened", "url", pageURL)
	return &Tab{Page: page, URL: pageURL}, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}
