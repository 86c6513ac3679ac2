package locator

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/hazyhaar/shadowtap/dom"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// safeAttrs are the attributes allowed into selectors: identity, semantic
// and accessibility attributes. aria-* is matched by prefix.
var safeAttrs = map[string]bool{
	"id": true, "name": true, "type": true, "role": true, "title": true,
	"alt": true, "placeholder": true, "for": true, "href": true, "src": true,
	"target": true, "autocomplete": true, "required": true, "readonly": true,
	"data-testid": true, "data-test": true, "data-qa": true, "data-cy": true,
	"data-id": true,
}

// escapeFn is CSSEscape; tests swap it to exercise the fallback.
var escapeFn = CSSEscape

var logger atomic.Pointer[slog.Logger]

// SetLogger sets where selector fallbacks are reported. nil restores
// slog.Default.
func SetLogger(l *slog.Logger) { logger.Store(l) }

func log() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func safeAttr(name string) bool {
	return safeAttrs[name] || strings.HasPrefix(name, "aria-")
}

// unsafeForExact reports whether v cannot be matched with an exact-quoted
// attribute selector: quotes, angle brackets, backtick or whitespace.
func unsafeForExact(v string) bool {
	return strings.ContainsFunc(v, func(r rune) bool {
		switch r {
		case '"', '\'', '<', '>', '`':
			return true
		}
		return unicode.IsSpace(r)
	})
}

// BuildSelector returns a CSS selector for n within its own scope, built
// from its tag, its identifier-safe classes and its allow-listed attributes.
//
// Classes that are not plain identifiers are skipped. An attribute with an
// empty value becomes a presence selector, one whose value holds a quote,
// angle bracket, backtick or whitespace becomes a substring match, anything
// else an exact match. An id that is a plain identifier renders as #id.
//
// BuildSelector never panics: a failure falls back to tag[xpath="<path>"].
// Non-element nodes use their parent element.
func BuildSelector(n dom.Node) (sel string) {
	el := elementOf(n)
	if el == nil {
		return ""
	}
	path := ResolvePath(el)
	defer func() {
		if r := recover(); r != nil {
			log().Warn("locator: selector construction failed",
				"path", path, "error", fmt.Sprint(r))
			sel = el.LocalName() + `[xpath="` + CSSEscape(path) + `"]`
		}
	}()
	return buildSelector(el)
}

func buildSelector(el *dom.Element) string {
	var b strings.Builder
	b.WriteString(el.LocalName())

	for _, c := range el.ClassList() {
		if identRe.MatchString(c) {
			b.WriteByte('.')
			b.WriteString(escapeFn(c))
		}
	}

	for _, a := range el.Attributes() {
		if a.Name == "class" || !safeAttr(a.Name) {
			continue
		}
		if a.Name == "id" && identRe.MatchString(a.Value) {
			b.WriteByte('#')
			b.WriteString(escapeFn(a.Value))
			continue
		}
		name := escapeFn(a.Name)
		switch {
		case a.Value == "":
			fmt.Fprintf(&b, "[%s]", name)
		case unsafeForExact(a.Value):
			fmt.Fprintf(&b, `[%s*="%s"]`, name, escapeFn(a.Value))
		default:
			fmt.Fprintf(&b, `[%s="%s"]`, name, escapeFn(a.Value))
		}
	}
	return b.String()
}
