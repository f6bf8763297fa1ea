package textmate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustReg(t *testing.T, pattern string) *Reg {
	t.Helper()
	r, err := compileReg(pattern, 0)
	require.NoError(t, err)
	return r
}

func TestReg_SearchRuneOffsets(t *testing.T) {
	r := mustReg(t, `w\p{L}+`)
	m, err := r.Search([]rune("héllo wörld"), 0, true, true)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, 6, m.Start())
	require.Equal(t, 11, m.End())
	require.Equal(t, "wörld", m.Text(0))
}

func TestReg_SearchFromPosition(t *testing.T) {
	r := mustReg(t, `a`)
	line := []rune("a-a")

	m, err := r.Search(line, 1, false, false)
	require.NoError(t, err)
	require.Equal(t, 2, m.Start())

	m, err = r.Search(line, 3, false, false)
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestReg_MatchAt(t *testing.T) {
	r := mustReg(t, `b`)
	line := []rune("ab")

	m, err := r.MatchAt(line, 0, false, false)
	require.NoError(t, err)
	require.Nil(t, m, "b is not at 0")

	m, err = r.MatchAt(line, 1, false, false)
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestReg_AnchorFlags(t *testing.T) {
	a := mustReg(t, `\Aa`)
	g := mustReg(t, `\Gb`)
	line := []rune("ab")

	m, err := a.Search(line, 0, true, false)
	require.NoError(t, err)
	require.NotNil(t, m)
	m, err = a.Search(line, 0, false, false)
	require.NoError(t, err)
	require.Nil(t, m, `\A is disabled past the first line`)

	m, err = g.Search(line, 1, false, true)
	require.NoError(t, err)
	require.NotNil(t, m)
	m, err = g.Search(line, 1, false, false)
	require.NoError(t, err)
	require.Nil(t, m, `\G is disabled away from a boundary`)

	z := mustReg(t, `b\z`)
	m, err = z.Search(line, 0, true, true)
	require.NoError(t, err)
	require.Nil(t, m, `\z never matches`)

	dollar := mustReg(t, `b$`)
	m, err = dollar.Search(line, 0, false, false)
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestReg_VariantsShared(t *testing.T) {
	plain := mustReg(t, `abc`)
	for i := 1; i < len(plain.variants); i++ {
		require.Same(t, plain.variants[0], plain.variants[i])
	}

	anchored := mustReg(t, `\Gabc`)
	require.NotSame(t, anchored.variant(true, true), anchored.variant(true, false))
	require.Same(t, anchored.variant(true, false), anchored.variant(false, false))
}

func TestReg_CompileError(t *testing.T) {
	_, err := compileReg(`(a`, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRegexCompile)

	var rerr *RegexError
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, `(a`, rerr.Pattern)
	require.Contains(t, err.Error(), `"(a"`)
}

func TestReg_Timeout(t *testing.T) {
	r, err := compileReg(`(a+)+$`, time.Millisecond)
	require.NoError(t, err)

	line := make([]rune, 0, 40)
	for i := 0; i < 39; i++ {
		line = append(line, 'a')
	}
	line = append(line, '!')
	_, err = r.Search(line, 0, false, false)
	require.Error(t, err)
}

func TestMatch_Groups(t *testing.T) {
	r := mustReg(t, `(a)|(b)`)
	m, err := r.Search([]rune("b"), 0, false, false)
	require.NoError(t, err)
	require.Equal(t, 3, m.NumGroups())

	_, _, ok := m.Group(1)
	require.False(t, ok, "group 1 did not participate")
	start, end, ok := m.Group(2)
	require.True(t, ok)
	require.Equal(t, 0, start)
	require.Equal(t, 1, end)
	_, _, ok = m.Group(5)
	require.False(t, ok)
	require.Equal(t, "", m.Text(1))
}

func TestMatch_NamedGroupsDisableNumbering(t *testing.T) {
	r := mustReg(t, `(?<word>a)(b)`)
	m, err := r.Search([]rune("ab"), 0, false, false)
	require.NoError(t, err)
	require.Equal(t, 2, m.NumGroups())
	require.Equal(t, "a", m.Text(1))
}

func TestRegSet_Search(t *testing.T) {
	c := newRegexCache(DefaultOptions().withDefaults())

	set, err := c.regset([]string{`a`, `ab`})
	require.NoError(t, err)
	idx, m, err := set.Search([]rune("xab"), 0, false, false)
	require.NoError(t, err)
	require.Equal(t, 0, idx, "ties go to the first alternative")
	require.Equal(t, 1, m.Start())

	set, err = c.regset([]string{`b`, `a`})
	require.NoError(t, err)
	idx, m, err = set.Search([]rune("ab"), 0, false, false)
	require.NoError(t, err)
	require.Equal(t, 1, idx, "earliest start wins")
	require.Equal(t, 0, m.Start())

	idx, m, err = set.Search([]rune("zz"), 0, false, false)
	require.NoError(t, err)
	require.Equal(t, -1, idx)
	require.Nil(t, m)

	empty, err := c.regset(nil)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())
}

func TestRegexCache_Interns(t *testing.T) {
	c := newRegexCache(DefaultOptions().withDefaults())

	r1, err := c.reg(`x+`)
	require.NoError(t, err)
	r2, err := c.reg(`x+`)
	require.NoError(t, err)
	require.Same(t, r1, r2)

	s1, err := c.regset([]string{`a`, `b`})
	require.NoError(t, err)
	s2, err := c.regset([]string{`a`, `b`})
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Same(t, r1, mustCached(t, c, `x+`))

	// the length prefix keeps differently split lists apart
	s3, err := c.regset([]string{`ab`})
	require.NoError(t, err)
	require.NotSame(t, s1, s3)
}

func mustCached(t *testing.T, c *regexCache, p string) *Reg {
	t.Helper()
	r, err := c.reg(p)
	require.NoError(t, err)
	return r
}

func TestRegexCache_Materialize(t *testing.T) {
	c := newRegexCache(DefaultOptions().withDefaults())
	begin, err := mustReg(t, `(["'])`).Search([]rune(`x"y`), 0, false, false)
	require.NoError(t, err)

	plain, err := c.materialize(`\)`, begin)
	require.NoError(t, err)
	require.Same(t, mustCached(t, c, `\)`), plain)

	expanded, err := c.materialize(`\1`, begin)
	require.NoError(t, err)
	require.Equal(t, `"`, expanded.Pattern())

	again, err := c.materialize(`\1`, begin)
	require.NoError(t, err)
	require.Same(t, expanded, again)
}

func TestExpandBackrefs(t *testing.T) {
	m, err := mustReg(t, `(a)(\()(b)?`).Search([]rune("a("), 0, false, false)
	require.NoError(t, err)

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"no backslash", `end`, `end`},
		{"group", `\1x`, `ax`},
		{"escaped group text", `\2`, `\(`},
		{"non participating group", `<\3>`, `<>`},
		{"missing group", `\9`, ``},
		{"escaped backslash kept", `\\1`, `\\1`},
		{"odd backslashes", `\\\1`, `\\a`},
		{"other escapes untouched", `\s\1\w`, `\sa\w`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandBackrefs(tt.template, m)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
