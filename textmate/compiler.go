package textmate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/zjrosen/tmtokenize/internal/log"
)

// Compiler lowers the rules reachable from one root grammar into compiled
// rules. Rules are compiled lazily, the first time the tokenizer dispatches
// to them, and memoized for the life of the compiler.
//
// A Compiler is safe for concurrent use.
type Compiler struct {
	grammars *Grammars
	root     *Grammar
	regex    *regexCache

	mu sync.RWMutex
	// ruleGrammar records the grammar each visited rule was reached from;
	// "$self" inside the rule resolves to it.
	ruleGrammar map[*Rule]*Grammar
	compiled    map[*Rule]CompiledRule
	flat        map[flatKey]flatPatterns

	// include cycle bookkeeping, see flatten
	inProgress map[flatKey]int
	cutDepth   int

	rootRule  *PatternRule
	rootState *State
}

// flatPatterns is a rule list lowered to the start patterns the parent's
// regset will search and the rules they dispatch to.
type flatPatterns struct {
	regs  []string
	rules []*Rule
}

type flatKey struct {
	grammar *Grammar
	rules   string
}

func newCompiler(grammars *Grammars, root *Grammar) (*Compiler, error) {
	c := &Compiler{
		grammars:    grammars,
		root:        root,
		regex:       grammars.regex,
		ruleGrammar: make(map[*Rule]*Grammar),
		compiled:    make(map[*Rule]CompiledRule),
		flat:        make(map[flatKey]flatPatterns),
		inProgress:  make(map[flatKey]int),
		cutDepth:    math.MaxInt,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fp, err := c.patterns(root, root.patterns)
	if err != nil {
		return nil, err
	}
	set, err := c.regex.regset(fp.regs)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", root.scopeName, err)
	}
	c.rootRule = &PatternRule{name: Scope{root.scopeName}, regset: set, rules: fp.rules}

	never, err := c.regex.reg(impossiblePattern)
	if err != nil {
		return nil, err
	}
	c.rootState = newState(&Entry{
		scope: c.rootRule.name,
		rule:  c.rootRule,
		reg:   never,
	})
	return c, nil
}

// ScopeName returns the scope of the grammar this compiler was built for.
func (c *Compiler) ScopeName() string { return c.root.scopeName }

// RootState returns the state every document starts in: a single frame
// scoped to the grammar's scope name.
func (c *Compiler) RootState() *State { return c.rootState }

// CompileRule returns the compiled form of a rule reachable from this
// compiler's root grammar.
func (c *Compiler) CompileRule(r *Rule) (CompiledRule, error) {
	c.mu.RLock()
	cr, ok := c.compiled[r]
	c.mu.RUnlock()
	if ok {
		return cr, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compileLocked(r)
}

func (c *Compiler) compileLocked(r *Rule) (CompiledRule, error) {
	if cr, ok := c.compiled[r]; ok {
		return cr, nil
	}
	g, ok := c.ruleGrammar[r]
	if !ok {
		g = c.root
		c.ruleGrammar[r] = g
	}

	// shape order: include, match, begin/end, begin/while
	var cr CompiledRule
	switch {
	case r.include != "":
		fp, set, err := c.children(g, []*Rule{r})
		if err != nil {
			return nil, err
		}
		cr = &PatternRule{name: r.name, regset: set, rules: fp.rules}

	case r.match != "":
		c.visitCaptures(g, r.captures)
		cr = &MatchRule{name: r.name, captures: r.captures}

	case r.begin != "" && r.end == "" && r.while != "":
		fp, set, err := c.children(g, r.patterns)
		if err != nil {
			return nil, err
		}
		c.visitCaptures(g, r.beginCaptures)
		c.visitCaptures(g, r.whileCaptures)
		cr = &WhileRule{
			name:          r.name,
			contentName:   r.contentName,
			beginCaptures: r.beginCaptures,
			whileCaptures: r.whileCaptures,
			while:         r.while,
			regset:        set,
			rules:         fp.rules,
		}

	case r.begin != "":
		fp, set, err := c.children(g, r.patterns)
		if err != nil {
			return nil, err
		}
		c.visitCaptures(g, r.beginCaptures)
		c.visitCaptures(g, r.endCaptures)
		cr = &EndRule{
			name:          r.name,
			contentName:   r.contentName,
			beginCaptures: r.beginCaptures,
			endCaptures:   r.endCaptures,
			end:           r.end,
			regset:        set,
			rules:         fp.rules,
		}

	default:
		fp, set, err := c.children(g, r.patterns)
		if err != nil {
			return nil, err
		}
		cr = &PatternRule{name: r.name, regset: set, rules: fp.rules}
	}

	c.compiled[r] = cr
	log.Debug(log.CatCompile, "compiled rule", "grammar", g.scopeName, "rule", r.id, "type", fmt.Sprintf("%T", cr))
	return cr, nil
}

func (c *Compiler) children(g *Grammar, rules []*Rule) (flatPatterns, *RegSet, error) {
	fp, err := c.patterns(g, rules)
	if err != nil {
		return flatPatterns{}, nil, err
	}
	set, err := c.regex.regset(fp.regs)
	if err != nil {
		return flatPatterns{}, nil, fmt.Errorf("compiling %s: %w", g.scopeName, err)
	}
	return fp, set, nil
}

func (c *Compiler) visitCaptures(g *Grammar, caps []Capture) {
	for _, cp := range caps {
		c.visit(g, cp.Rule)
	}
}

// visit records that r was reached from g. The first grammar to reach a
// rule keeps it.
func (c *Compiler) visit(g *Grammar, r *Rule) {
	if _, ok := c.ruleGrammar[r]; !ok {
		c.ruleGrammar[r] = g
	}
}

// patterns flattens a rule list: includes are replaced by the start set of
// their target and containers without match or begin are inlined. The
// result lists only rules with a match or begin pattern.
func (c *Compiler) patterns(g *Grammar, rules []*Rule) (flatPatterns, error) {
	key := flatKey{grammar: g, rules: ruleIDs(rules)}
	return c.flatten(key, func() (flatPatterns, error) {
		var out flatPatterns
		seen := make(map[*Rule]bool)
		// a repeated rule can never win over its first occurrence
		add := func(fp flatPatterns) {
			for i, r := range fp.rules {
				if !seen[r] {
					seen[r] = true
					out.regs = append(out.regs, fp.regs[i])
					out.rules = append(out.rules, r)
				}
			}
		}
		for _, r := range rules {
			c.visit(g, r)
			switch {
			case r.include != "":
				fp, err := c.include(g, r.repository, r.include)
				if err != nil {
					return flatPatterns{}, err
				}
				add(fp)
			case r.match == "" && r.begin == "":
				if len(r.patterns) == 0 {
					continue
				}
				fp, err := c.patterns(g, r.patterns)
				if err != nil {
					return flatPatterns{}, err
				}
				add(fp)
			case r.match != "":
				add(flatPatterns{regs: []string{r.match}, rules: []*Rule{r}})
			default:
				add(flatPatterns{regs: []string{r.begin}, rules: []*Rule{r}})
			}
		}
		return out, nil
	})
}

// include resolves one include reference to the start set of its target.
func (c *Compiler) include(g *Grammar, repo *Repository, ref string) (flatPatterns, error) {
	key := flatKey{grammar: g, rules: "include:" + repoID(repo) + ":" + ref}
	return c.flatten(key, func() (flatPatterns, error) {
		switch {
		case ref == "$self":
			return c.patterns(g, g.patterns)
		case ref == "$base":
			return c.patterns(c.root, c.root.patterns)
		case strings.HasPrefix(ref, "#"):
			return c.repositoryRule(g, repo, ref[1:], ref)
		}

		scope, name, hasName := strings.Cut(ref, "#")
		other, err := c.grammars.GrammarForScope(scope)
		if err != nil {
			return flatPatterns{}, fmt.Errorf("%w: %q from %s: %w", ErrMissingInclude, ref, g.scopeName, err)
		}
		if !hasName {
			return c.patterns(other, other.patterns)
		}
		return c.repositoryRule(other, other.repository, name, ref)
	})
}

func (c *Compiler) repositoryRule(g *Grammar, repo *Repository, name, ref string) (flatPatterns, error) {
	var (
		r  *Rule
		ok bool
	)
	if repo != nil {
		r, ok = repo.Lookup(name)
	}
	if !ok {
		return flatPatterns{}, fmt.Errorf("%w: %q in %s", ErrMissingInclude, ref, g.scopeName)
	}
	return c.patterns(g, []*Rule{r})
}

// flatten memoizes fn under key and breaks include cycles.
//
// Re-entering a key that is still being flattened contributes nothing.
// Results computed below such a cut are incomplete, so only frames at or
// above the shallowest cut are memoized.
func (c *Compiler) flatten(key flatKey, fn func() (flatPatterns, error)) (flatPatterns, error) {
	if fp, ok := c.flat[key]; ok {
		return fp, nil
	}
	if depth, ok := c.inProgress[key]; ok {
		log.Debug(log.CatCompile, "include cycle", "grammar", key.grammar.scopeName, "key", key.rules)
		c.cutDepth = min(c.cutDepth, depth)
		return flatPatterns{}, nil
	}

	depth := len(c.inProgress)
	c.inProgress[key] = depth
	fp, err := fn()
	delete(c.inProgress, key)
	if err != nil {
		if len(c.inProgress) == 0 {
			c.cutDepth = math.MaxInt
		}
		return flatPatterns{}, err
	}

	if c.cutDepth >= depth {
		c.flat[key] = fp
		if c.cutDepth == depth {
			c.cutDepth = math.MaxInt
		}
	}
	return fp, nil
}

func ruleIDs(rules []*Rule) string {
	var sb strings.Builder
	for _, r := range rules {
		sb.WriteString(strconv.Itoa(r.id))
		sb.WriteByte(',')
	}
	return sb.String()
}

func repoID(r *Repository) string {
	if r == nil {
		return "-"
	}
	return strconv.Itoa(r.id)
}
