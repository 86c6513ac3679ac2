package locator

import (
	"strings"

	"github.com/hazyhaar/shadowtap/dom"
	"github.com/hazyhaar/shadowtap/event"
)

// ScopeSeparator joins the selectors of a chain. It is the shadow-piercing
// combinator understood by Playwright.
const ScopeSeparator = " >> "

// Locator addresses a node. It is computed fresh for every captured event.
type Locator struct {
	// StructuralPath is valid within the node's own scope only.
	StructuralPath string
	// SelectorChain holds one selector per scope, outermost first.
	SelectorChain []string
}

// BuildChain returns the selectors addressing n from the document down to
// n's own scope: n's selector in its scope, preceded by the selector of each
// enclosing shadow host in the host's scope. A node outside any shadow tree
// yields a single selector.
func BuildChain(n dom.Node) []string {
	var chain []string
	for el := elementOf(n); el != nil; {
		chain = append(chain, BuildSelector(el))
		sr, ok := el.Root().(*dom.ShadowRoot)
		if !ok {
			break
		}
		el = sr.Host()
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// JoinChain joins a chain with ScopeSeparator.
func JoinChain(chain []string) string { return strings.Join(chain, ScopeSeparator) }

// Locate computes both locator forms for n.
func Locate(n dom.Node) Locator {
	return Locator{StructuralPath: ResolvePath(n), SelectorChain: BuildChain(n)}
}

// Wire converts l to the form carried by emitted records.
func (l Locator) Wire() event.Locator {
	return event.Locator{
		XPath:         l.StructuralPath,
		SelectorChain: l.SelectorChain,
		CSSSelector:   JoinChain(l.SelectorChain),
	}
}
