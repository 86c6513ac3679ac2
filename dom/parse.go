// CLAUDE:SUMMARY Converts between x/net/html trees and dom documents, including declarative shadow roots.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse builds a Document from HTML. A <template shadowrootmode="open|closed">
// that is the first such template of its parent becomes a declarative shadow
// root of the parent, as browsers do. Custom element constructors do not run
// during parsing; Define upgrades matching elements later.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	doc := NewDocument(opts...)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := fromHTML(doc, c); n != nil {
			if err := doc.AppendChild(n); err != nil {
				return nil, fmt.Errorf("dom: parse: %w", err)
			}
		}
	}
	return doc, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

func fromHTML(doc *Document, h *html.Node) Node {
	switch h.Type {
	case html.TextNode:
		return doc.CreateTextNode(h.Data)
	case html.CommentNode:
		return doc.CreateComment(h.Data)
	case html.ElementNode:
	default:
		return nil
	}

	el := doc.CreateElementUndefined(h.Data)
	for _, a := range h.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		el.SetAttribute(name, a.Val)
	}
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if mode, ok := declarativeShadowMode(c); ok && el.shadow == nil {
			if sr, err := el.AttachShadowDeclarative(mode); err == nil {
				for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
					if n := fromHTML(doc, cc); n != nil {
						_ = sr.AppendChild(n)
					}
				}
				continue
			}
		}
		if n := fromHTML(doc, c); n != nil {
			_ = el.AppendChild(n)
		}
	}
	return el
}

func declarativeShadowMode(h *html.Node) (ShadowRootMode, bool) {
	if h.Type != html.ElementNode || h.Data != "template" {
		return "", false
	}
	for _, a := range h.Attr {
		if a.Namespace == "" && (a.Key == "shadowrootmode" || a.Key == "shadowroot") {
			switch strings.ToLower(a.Val) {
			case "open":
				return ShadowRootOpen, true
			case "closed":
				return ShadowRootClosed, true
			}
		}
	}
	return "", false
}

// ToHTML converts n into an x/net/html tree. Documents and shadow roots
// become html.DocumentNode. With withShadow set, every shadow root is
// rendered as a leading <template shadowrootmode> child of its host.
func ToHTML(n Node, withShadow bool) *html.Node {
	switch v := n.(type) {
	case *Document, *ShadowRoot:
		out := &html.Node{Type: html.DocumentNode}
		appendHTMLChildren(out, v, withShadow)
		return out
	case *Text:
		return &html.Node{Type: html.TextNode, Data: v.data}
	case *Comment:
		return &html.Node{Type: html.CommentNode, Data: v.data}
	case *Element:
		out := &html.Node{Type: html.ElementNode, Data: v.localName, DataAtom: atom.Lookup([]byte(v.localName))}
		for _, a := range v.attrs {
			out.Attr = append(out.Attr, html.Attribute{Key: a.Name, Val: a.Value})
		}
		if withShadow && v.shadow != nil {
			tpl := &html.Node{
				Type:     html.ElementNode,
				Data:     "template",
				DataAtom: atom.Template,
				Attr:     []html.Attribute{{Key: "shadowrootmode", Val: string(v.shadow.mode)}},
			}
			appendHTMLChildren(tpl, v.shadow, withShadow)
			out.AppendChild(tpl)
		}
		appendHTMLChildren(out, v, withShadow)
		return out
	}
	return nil
}

func appendHTMLChildren(dst *html.Node, src Node, withShadow bool) {
	for _, c := range src.base().children {
		if h := ToHTML(c, withShadow); h != nil {
			dst.AppendChild(h)
		}
	}
}

// OuterHTML renders n, shadow roots included.
func OuterHTML(n Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, ToHTML(n, true)); err != nil {
		return ""
	}
	return buf.String()
}
