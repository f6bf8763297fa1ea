package textmate

import (
	"fmt"
	"strings"
)

// Scope is a stack of scope names, outermost first, e.g.
// ("source.python", "string.quoted.double").
type Scope []string

// String joins the scope names with spaces.
func (s Scope) String() string {
	return strings.Join(s, " ")
}

// Equal reports whether both scopes hold the same names in the same order.
func (s Scope) Equal(other Scope) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// concat returns a new scope; s is never modified.
func (s Scope) concat(more Scope) Scope {
	if len(more) == 0 {
		return s
	}
	out := make(Scope, 0, len(s)+len(more))
	out = append(out, s...)
	return append(out, more...)
}

// splitName turns a space-separated rule name into scope fragments.
func splitName(name string) Scope {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return nil
	}
	return Scope(fields)
}

// Region is a half-open [Start, End) span of a line tagged with a scope.
// Offsets count runes (code points), not bytes.
//
// The regions returned for one line are gap-free and non-overlapping:
// the first starts at 0, each ends where the next starts, and the last ends
// at the rune length of the line.
type Region struct {
	Start int
	End   int
	Scope Scope
}

func (r Region) String() string {
	return fmt.Sprintf("(%d, %d, %q)", r.Start, r.End, []string(r.Scope))
}

func (r Region) shift(by int) Region {
	return Region{Start: r.Start + by, End: r.End + by, Scope: r.Scope}
}
