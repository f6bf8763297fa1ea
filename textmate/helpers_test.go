package textmate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeGrammar(t *testing.T, dir, file, body string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// compileGrammar registers body as the grammar "t" and returns its compiler.
func compileGrammar(t *testing.T, body string) *Compiler {
	t.Helper()
	dir := t.TempDir()
	writeGrammar(t, dir, "t.json", body)
	c, err := NewGrammars(dir).CompilerForScope("t")
	require.NoError(t, err)
	return c
}

func testdataGrammars() *Grammars {
	return NewGrammars("testdata")
}

// tokenizeAll threads the state through lines and returns every line's regions.
func tokenizeAll(t *testing.T, c *Compiler, lines ...string) ([][]Region, *State) {
	t.Helper()
	st := c.RootState()
	out := make([][]Region, len(lines))
	for i, line := range lines {
		var err error
		st, out[i], err = c.Tokenize(st, line, i == 0)
		require.NoError(t, err, "line %d", i+1)
		requireCovers(t, line, out[i])
	}
	return out, st
}

// requireCovers checks that regions tile line exactly.
func requireCovers(t *testing.T, line string, regions []Region) {
	t.Helper()
	n := len([]rune(line))
	if n == 0 {
		require.Empty(t, regions)
		return
	}
	require.NotEmpty(t, regions)
	require.Equal(t, 0, regions[0].Start, "first region starts the line")
	require.Equal(t, n, regions[len(regions)-1].End, "last region ends the line")
	for i, r := range regions {
		require.Less(t, r.Start, r.End, "region %d is empty: %v", i, r)
		if i > 0 {
			require.Equal(t, regions[i-1].End, r.Start, "gap or overlap before region %d", i)
		}
	}
}

// scopeAt returns the space-joined scope of the region covering rune i.
func scopeAt(regions []Region, i int) string {
	for _, r := range regions {
		if r.Start <= i && i < r.End {
			return r.Scope.String()
		}
	}
	return ""
}

// scopeOf returns the scope covering the first occurrence of sub in line.
func scopeOf(t *testing.T, line string, regions []Region, sub string) string {
	t.Helper()
	i := strings.Index(line, sub)
	require.GreaterOrEqual(t, i, 0, "%q not in %q", sub, line)
	runeIdx := len([]rune(line[:i]))
	scope := scopeAt(regions, runeIdx)
	for k := 1; k < len([]rune(sub)); k++ {
		require.Equal(t, scope, scopeAt(regions, runeIdx+k), "%q is not uniformly scoped", sub)
	}
	return scope
}
