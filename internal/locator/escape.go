package locator

import (
	"strconv"
	"strings"
)

// CSSEscape escapes s for use as a CSS identifier or inside a quoted CSS
// string, following the CSSOM CSS.escape() algorithm.
func CSSEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	first := rune(-1)
	i := 0
	for _, r := range s {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case r >= 0x01 && r <= 0x1F, r == 0x7F:
			hexEscape(&b, r)
		case i == 0 && r >= '0' && r <= '9':
			hexEscape(&b, r)
		case i == 1 && r >= '0' && r <= '9' && first == '-':
			hexEscape(&b, r)
		case i == 0 && r == '-' && len(s) == 1:
			b.WriteString(`\-`)
		case r >= 0x80, r == '-', r == '_',
			r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
		if i == 0 {
			first = r
		}
		i++
	}
	return b.String()
}

func hexEscape(b *strings.Builder, r rune) {
	b.WriteByte('\\')
	b.WriteString(strconv.FormatInt(int64(r), 16))
	b.WriteByte(' ')
}
