package textmate

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Grammars are written for Oniguruma; patterns are rewritten into the
// dialect regexp2 understands before compilation.

// neverPattern is an assertion that cannot succeed. It replaces anchors the
// current search flags disable.
const neverPattern = `(?!)`

var posixClasses = map[string]string{
	"alnum":  `\p{L}\p{Nd}`,
	"alpha":  `\p{L}`,
	"ascii":  `\x00-\x7F`,
	"blank":  ` \t`,
	"cntrl":  `\p{Cc}`,
	"digit":  `0-9`,
	"graph":  `\x21-\x7E`,
	"lower":  `\p{Ll}`,
	"print":  `\x20-\x7E`,
	"punct":  `\p{P}\p{S}`,
	"space":  `\s`,
	"upper":  `\p{Lu}`,
	"word":   `\w`,
	"xdigit": `0-9A-Fa-f`,
}

// maxRune closes the open-ended ranges below. regexp2 reads patterns as
// runes, so the literal code point is a valid range end.
const maxRune = "\U0010FFFF"

// negatedPosixClasses hold the complements of posixClasses as class
// members, for [:^name:]. Unions of categories are complemented through the
// remaining general categories.
var negatedPosixClasses = map[string]string{
	"alnum":  `\p{M}\p{Nl}\p{No}\p{P}\p{S}\p{Z}\p{C}`,
	"alpha":  `\P{L}`,
	"ascii":  `\u0080-` + maxRune,
	"blank":  `\x00-\x08\n-\x1F!-` + maxRune,
	"cntrl":  `\P{Cc}`,
	"digit":  `\x00-/:-` + maxRune,
	"graph":  `\x00-\x20\x7F-` + maxRune,
	"lower":  `\P{Ll}`,
	"print":  `\x00-\x1F\x7F-` + maxRune,
	"punct":  `\p{L}\p{M}\p{N}\p{Z}\p{C}`,
	"space":  `\S`,
	"upper":  `\P{Lu}`,
	"word":   `\W`,
	"xdigit": `\x00-/:-@G-\x60g-` + maxRune,
}

func posixClass(name string) (string, bool) {
	if neg, ok := strings.CutPrefix(name, "^"); ok {
		repl, ok := negatedPosixClasses[neg]
		return repl, ok
	}
	repl, ok := posixClasses[name]
	return repl, ok
}

// translatePattern rewrites an Oniguruma pattern for regexp2.
//
// \z and \Z never match (lines are searched with NOT_END_STRING). \A and
// \G are disabled when noBeginString and noBeginPosition are set. \h, \H,
// \x{...} and POSIX bracket classes are expanded, nested non-negated
// character classes are flattened, and possessive quantifiers become greedy.
func translatePattern(p string, noBeginString, noBeginPosition bool) string {
	var b strings.Builder
	b.Grow(len(p) + 8)

	// one entry per open class; true when its closing bracket is dropped
	var classes []bool
	quant := false
	prev := byte(0)

	for i := 0; i < len(p); i++ {
		c := p[i]

		if c == '\\' && i+1 < len(p) {
			next := p[i+1]
			i++
			quant = false
			prev = next
			if next == 'x' && i+1 < len(p) && p[i+1] == '{' {
				if lit, n, ok := hexBrace(p[i+1:]); ok {
					b.WriteString(lit)
					i += n
					continue
				}
			}
			if len(classes) > 0 {
				switch next {
				case 'h':
					b.WriteString(`0-9a-fA-F`)
				default:
					b.WriteByte('\\')
					b.WriteByte(next)
				}
				continue
			}
			switch next {
			case 'A':
				if noBeginString {
					b.WriteString(neverPattern)
				} else {
					b.WriteString(`\A`)
				}
			case 'G':
				if noBeginPosition {
					b.WriteString(neverPattern)
				} else {
					b.WriteString(`\G`)
				}
			case 'z', 'Z':
				b.WriteString(neverPattern)
			case 'h':
				b.WriteString(`[0-9a-fA-F]`)
			case 'H':
				b.WriteString(`[^0-9a-fA-F]`)
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			continue
		}

		if len(classes) > 0 {
			switch c {
			case '[':
				if i+1 < len(p) && p[i+1] == ':' {
					if end := strings.Index(p[i+2:], ":]"); end >= 0 {
						if repl, ok := posixClass(p[i+2 : i+2+end]); ok {
							b.WriteString(repl)
							i += end + 3
							continue
						}
					}
				}
				if i+1 < len(p) && p[i+1] != '^' {
					classes = append(classes, true)
					continue
				}
				classes = append(classes, false)
				b.WriteByte(c)
			case ']':
				dropped := classes[len(classes)-1]
				classes = classes[:len(classes)-1]
				if !dropped {
					b.WriteByte(c)
				}
			default:
				b.WriteByte(c)
			}
			prev = c
			continue
		}

		switch c {
		case '[':
			classes = append(classes, false)
			b.WriteByte(c)
			if i+1 < len(p) && p[i+1] == '^' {
				b.WriteByte('^')
				i++
			}
			if i+1 < len(p) && p[i+1] == ']' {
				b.WriteString(`\]`)
				i++
			}
			quant = false
		case '*', '+', '?':
			switch {
			case quant && c == '+':
				// possessive: drop the marker, keep the greedy quantifier
				quant = false
				continue
			case quant:
				quant = false
			case prev == '(':
				quant = false
			default:
				quant = true
			}
			b.WriteByte(c)
		default:
			quant = false
			b.WriteByte(c)
		}
		prev = c
	}
	return b.String()
}

// hexBrace converts "{H...}" into a regexp2 escape. It returns the
// replacement and the number of bytes consumed.
func hexBrace(s string) (string, int, bool) {
	end := strings.IndexByte(s, '}')
	if end < 2 {
		return "", 0, false
	}
	v, err := strconv.ParseUint(s[1:end], 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return "", 0, false
	}
	if v <= 0xFFFF {
		return `\u` + leftPad(strconv.FormatUint(v, 16), 4), end + 1, true
	}
	// regexp2 works on runes, a supplementary code point is one literal rune
	return string(rune(v)), end + 1, true
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

// hasNamedGroup reports whether p defines a named group. Oniguruma stops
// numbering plain groups once a named group appears.
func hasNamedGroup(p string) bool {
	class := false
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '\\':
			i++
		case class:
			if c == ']' {
				class = false
			}
		case c == '[':
			class = true
		case c == '(' && i+3 < len(p) && p[i+1] == '?':
			switch p[i+2] {
			case '\'':
				return true
			case '<':
				n := p[i+3]
				if n != '=' && n != '!' {
					return true
				}
			}
		}
	}
	return false
}
