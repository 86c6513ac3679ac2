// CLAUDE:SUMMARY Binds a Mirror to a rod page: DOM tracking, capture script injection and the CDP event loop.
package mirror

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

//go:embed capture.js
var captureJS string

// Page feeds a Mirror from a live rod page.
type Page struct {
	*Mirror
	page   *rod.Page
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// Attach starts mirroring page. The capture script is installed for every
// later document and evaluated in the current one.
func Attach(ctx context.Context, page *rod.Page, cfg Config) (*Page, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Page{
		Mirror: New(cfg),
		page:   page.Context(ctx),
		logger: cfg.Logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := p.setup(); err != nil {
		cancel()
		return nil, err
	}
	go p.listen()
	return p, nil
}

func (p *Page) setup() error {
	if err := (proto.RuntimeEnable{}).Call(p.page); err != nil {
		return fmt.Errorf("mirror: Runtime.enable: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(p.page); err != nil {
		return fmt.Errorf("mirror: Runtime.addBinding: %w", err)
	}
	if _, err := p.page.EvalOnNewDocument(captureJS); err != nil {
		return fmt.Errorf("mirror: install capture script: %w", err)
	}
	if err := (proto.DOMEnable{}).Call(p.page); err != nil {
		return fmt.Errorf("mirror: DOM.enable: %w", err)
	}
	if err := p.reload(); err != nil {
		return err
	}
	if _, err := p.page.Eval("() => {" + captureJS + "}"); err != nil {
		p.logger.Warn("mirror: capture script on current document failed", "error", err)
	}
	return nil
}

// reload fetches the whole document, shadow roots included. Without
// depth -1 and pierce, CDP does not report mutations on deep nodes.
func (p *Page) reload() error {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(p.page)
	if err != nil {
		return fmt.Errorf("mirror: DOM.getDocument: %w", err)
	}
	return p.Load(res.Root)
}

// listen runs the CDP event loop. Events are applied in arrival order on
// this goroutine.
func (p *Page) listen() {
	defer close(p.done)
	wait := p.page.EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			p.apply(e)
			p.requestChildren(e.Node)
		},
		func(e *proto.DOMChildNodeRemoved) { p.apply(e) },
		func(e *proto.DOMAttributeModified) { p.apply(e) },
		func(e *proto.DOMAttributeRemoved) { p.apply(e) },
		func(e *proto.DOMCharacterDataModified) { p.apply(e) },
		func(e *proto.DOMSetChildNodes) { p.apply(e) },
		func(e *proto.DOMShadowRootPushed) { p.apply(e) },
		func(e *proto.DOMShadowRootPopped) { p.apply(e) },
		func(e *proto.DOMDocumentUpdated) { p.apply(e) },
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != BindingName {
				return
			}
			if err := p.HandleBinding(e.Payload); err != nil {
				p.logger.Debug("mirror: binding call dropped", "error", err)
			}
		},
	)
	wait()
}

func (p *Page) apply(ev any) {
	err := p.Apply(ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrDocumentReplaced):
		p.logger.Info("mirror: document updated, reloading")
		if err := p.reload(); err != nil {
			p.logger.Error("mirror: reload failed", "error", err)
		}
	default:
		p.logger.Debug("mirror: event not applied", "error", err)
	}
}

// requestChildren asks CDP for the subtree of an inserted element it sent
// without children. They arrive as DOM.setChildNodes.
func (p *Page) requestChildren(n *proto.DOMNode) {
	if n == nil || n.NodeType != 1 || len(n.Children) > 0 {
		return
	}
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: n.NodeID, Depth: &depth, Pierce: true}.Call(p.page)
	if err != nil {
		p.logger.Debug("mirror: request child nodes failed", "node", n.NodeID, "error", err)
	}
}

// Close stops the event loop.
func (p *Page) Close() {
	p.cancel()
	<-p.done
}
