package textmate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/zjrosen/tmtokenize/internal/cachemanager"
	"github.com/zjrosen/tmtokenize/internal/log"
)

// Match is a successful search. Positions are rune offsets into the line.
type Match struct {
	line  []rune
	spans []int // start, end pairs per group; -1 when the group did not participate
}

func newMatch(line []rune, m *regexp2.Match) *Match {
	n := m.GroupCount()
	spans := make([]int, 2*n)
	for i := 0; i < n; i++ {
		spans[2*i], spans[2*i+1] = -1, -1
		g := m.GroupByNumber(i)
		if g == nil || len(g.Captures) == 0 {
			continue
		}
		spans[2*i] = g.Index
		spans[2*i+1] = g.Index + g.Length
	}
	return &Match{line: line, spans: spans}
}

// Start returns the offset where the whole match begins.
func (m *Match) Start() int { return m.spans[0] }

// End returns the offset just past the whole match.
func (m *Match) End() int { return m.spans[1] }

// NumGroups returns the number of groups, including group 0.
func (m *Match) NumGroups() int { return len(m.spans) / 2 }

// Group returns the span of group i. ok is false when the pattern has no
// such group or the group did not participate in the match.
func (m *Match) Group(i int) (start, end int, ok bool) {
	if i < 0 || i >= m.NumGroups() || m.spans[2*i] < 0 {
		return 0, 0, false
	}
	return m.spans[2*i], m.spans[2*i+1], true
}

// Text returns the text of group i, or "" when Group(i) is not ok.
func (m *Match) Text(i int) string {
	start, end, ok := m.Group(i)
	if !ok {
		return ""
	}
	return string(m.line[start:end])
}

// Reg is a single compiled pattern.
//
// The four anchor-flag combinations of a search (first line or not, at a
// boundary or not) are precompiled as variants with \A and \G disabled as
// needed. Patterns that use neither anchor share one compiled regexp.
type Reg struct {
	pattern  string
	variants [4]*regexp2.Regexp
}

func compileReg(pattern string, timeout time.Duration) (*Reg, error) {
	opts := regexp2.RegexOptions(regexp2.Multiline)
	if hasNamedGroup(pattern) {
		opts |= regexp2.ExplicitCapture
	}

	r := &Reg{pattern: pattern}
	compiled := make(map[string]*regexp2.Regexp, 1)
	for i := range r.variants {
		src := translatePattern(pattern, i&2 != 0, i&1 != 0)
		re, ok := compiled[src]
		if !ok {
			var err error
			re, err = regexp2.Compile(src, opts)
			if err != nil {
				log.Debug(log.CatRegex, "pattern rejected", "pattern", pattern, "translated", src, "error", err)
				return nil, &RegexError{Pattern: pattern, Err: err}
			}
			if timeout > 0 {
				re.MatchTimeout = timeout
			}
			compiled[src] = re
		}
		r.variants[i] = re
	}
	return r, nil
}

// Pattern returns the source pattern as written in the grammar.
func (r *Reg) Pattern() string { return r.pattern }

func (r *Reg) variant(firstLine, boundary bool) *regexp2.Regexp {
	i := 0
	if !firstLine {
		i |= 2
	}
	if !boundary {
		i |= 1
	}
	return r.variants[i]
}

// Search finds the leftmost match starting at or after pos.
// It returns nil, nil when nothing matches.
func (r *Reg) Search(line []rune, pos int, firstLine, boundary bool) (*Match, error) {
	m, err := r.variant(firstLine, boundary).FindRunesMatchStartingAt(line, pos)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", r.pattern, err)
	}
	if m == nil {
		return nil, nil
	}
	return newMatch(line, m), nil
}

// MatchAt is Search restricted to matches that begin exactly at pos.
// The leftmost search tries pos first, so a later hit means there is none at pos.
func (r *Reg) MatchAt(line []rune, pos int, firstLine, boundary bool) (*Match, error) {
	m, err := r.Search(line, pos, firstLine, boundary)
	if err != nil || m == nil || m.Start() != pos {
		return nil, err
	}
	return m, nil
}

// RegSet is an ordered alternation of patterns. Search reports which
// alternative matches earliest; ties go to the alternative listed first.
type RegSet struct {
	regs []*Reg
}

// Len returns the number of alternatives.
func (s *RegSet) Len() int { return len(s.regs) }

// Search returns the index of the winning alternative and its match, or
// -1 and nil when none matches.
func (s *RegSet) Search(line []rune, pos int, firstLine, boundary bool) (int, *Match, error) {
	bestIdx := -1
	var best *Match
	for i, r := range s.regs {
		m, err := r.Search(line, pos, firstLine, boundary)
		if err != nil {
			return -1, nil, err
		}
		if m == nil {
			continue
		}
		if best == nil || m.Start() < best.Start() {
			bestIdx, best = i, m
			if m.Start() == pos {
				break
			}
		}
	}
	return bestIdx, best, nil
}

// impossiblePattern closes begin rules that declare neither end nor while.
const impossiblePattern = neverPattern

// regexCache interns compiled patterns and regsets by their source text.
type regexCache struct {
	timeout    time.Duration
	ttl        time.Duration
	backrefTTL time.Duration

	regStore     *cachemanager.InMemoryCacheManager[string, *Reg]
	setStore     *cachemanager.InMemoryCacheManager[string, *RegSet]
	backrefStore *cachemanager.InMemoryCacheManager[string, *Reg]

	regs     *cachemanager.ReadThroughCache[string, *Reg, string]
	sets     *cachemanager.ReadThroughCache[string, *RegSet, []string]
	backrefs *cachemanager.ReadThroughCache[string, *Reg, string]
}

func newRegexCache(opts Options) *regexCache {
	c := &regexCache{
		timeout:    opts.MatchTimeout,
		ttl:        opts.CacheExpiration,
		backrefTTL: opts.BackrefExpiration,
	}
	c.regStore = cachemanager.NewInMemoryCacheManager[string, *Reg]("regex", opts.CacheExpiration, cachemanager.DefaultCleanupInterval)
	c.setStore = cachemanager.NewInMemoryCacheManager[string, *RegSet]("regset", opts.CacheExpiration, cachemanager.DefaultCleanupInterval)
	c.backrefStore = cachemanager.NewInMemoryCacheManager[string, *Reg]("backref", opts.BackrefExpiration, cachemanager.DefaultCleanupInterval)
	c.regs = cachemanager.NewReadThroughCache[string, *Reg, string](c.regStore, c.compile)
	c.sets = cachemanager.NewReadThroughCache[string, *RegSet, []string](c.setStore, c.compileSet)
	c.backrefs = cachemanager.NewReadThroughCache[string, *Reg, string](c.backrefStore, c.compile)
	return c
}

// flush drops every cached pattern. Compiled rules keep the regexes they
// already hold.
func (c *regexCache) flush() {
	c.regStore.Flush()
	c.setStore.Flush()
	c.backrefStore.Flush()
}

func (c *regexCache) compile(pattern string) (*Reg, error) {
	return compileReg(pattern, c.timeout)
}

func (c *regexCache) compileSet(patterns []string) (*RegSet, error) {
	set := &RegSet{regs: make([]*Reg, len(patterns))}
	for i, p := range patterns {
		r, err := c.reg(p)
		if err != nil {
			return nil, err
		}
		set.regs[i] = r
	}
	return set, nil
}

func (c *regexCache) reg(pattern string) (*Reg, error) {
	return c.regs.Get(pattern, pattern, c.ttl)
}

func (c *regexCache) regset(patterns []string) (*RegSet, error) {
	return c.sets.Get(regsetKey(patterns), patterns, c.ttl)
}

// materialize expands the back-references of an end or while template
// against the begin match and compiles the result.
func (c *regexCache) materialize(template string, begin *Match) (*Reg, error) {
	expanded, err := expandBackrefs(template, begin)
	if err != nil {
		return nil, err
	}
	if expanded == template {
		return c.reg(template)
	}
	return c.backrefs.GetWithRefresh(expanded, expanded, c.backrefTTL)
}

func regsetKey(patterns []string) string {
	var b strings.Builder
	for _, p := range patterns {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

var backrefRe = regexp2.MustCompile(`((?<!\\)(?:\\\\)*)\\([0-9]+)`, regexp2.None)

// expandBackrefs replaces every unescaped \N in template with the escaped
// text of group N of m. An even run of backslashes before \N is kept; groups
// that are missing or did not participate expand to nothing.
func expandBackrefs(template string, m *Match) (string, error) {
	if !strings.ContainsRune(template, '\\') {
		return template, nil
	}
	out, err := backrefRe.ReplaceFunc(template, func(ref regexp2.Match) string {
		n, err := strconv.Atoi(ref.GroupByNumber(2).String())
		if err != nil {
			return ref.String()
		}
		return ref.GroupByNumber(1).String() + regexp2.Escape(m.Text(n))
	}, -1, -1)
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", template, err)
	}
	return out, nil
}
