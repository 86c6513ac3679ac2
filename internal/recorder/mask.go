package recorder

import (
	"bytes"
	"strings"

	"github.com/hazyhaar/shadowtap/event"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maskDocument replaces the value of every password input in a serialised
// document. Unparseable input is dropped rather than passed through.
func maskDocument(src string) string {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	if !maskTree(root) {
		return src
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return ""
	}
	return buf.String()
}

// maskFragment is maskDocument for a subtree serialised on its own.
func maskFragment(src string) string {
	if !strings.Contains(strings.ToLower(src), "password") {
		return src
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), ctx)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		maskTree(n)
		if err := html.Render(&buf, n); err != nil {
			return ""
		}
	}
	return buf.String()
}

// maskTree masks password inputs under n and reports whether any were found.
func maskTree(n *html.Node) bool {
	found := false
	stack := []*html.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.Type == html.ElementNode && cur.DataAtom == atom.Input && isPassword(cur) {
			found = true
			for i, a := range cur.Attr {
				if a.Namespace == "" && a.Key == "value" {
					cur.Attr[i].Val = event.PasswordMask
				}
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			stack = append(stack, c)
		}
	}
	return found
}

func isPassword(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "type" && strings.EqualFold(a.Val, "password") {
			return true
		}
	}
	return false
}

// maskRecord hides password values carried by a mutation record.
func maskRecord(rec event.Record, password bool) event.Record {
	if password && (rec.Op == event.OpAttr || rec.Op == event.OpAttrDel) && rec.Name == "value" {
		if rec.Value != "" {
			rec.Value = event.PasswordMask
		}
		if rec.OldValue != "" {
			rec.OldValue = event.PasswordMask
		}
	}
	if rec.HTML != "" {
		rec.HTML = maskFragment(rec.HTML)
	}
	return rec
}
