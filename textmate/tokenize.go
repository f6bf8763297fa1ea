package textmate

import (
	"context"
	"fmt"

	"github.com/zjrosen/tmtokenize/internal/log"
)

// Tokenize scans one line (without its newline) starting from st and
// returns the state for the next line together with the line's regions.
// A nil st starts from c.RootState(). firstLine enables \A and must be set
// only for the first line of a document.
//
// The regions cover the whole line in order without gaps or overlaps. An
// empty line yields no regions and returns st unchanged.
func Tokenize(c *Compiler, st *State, line string, firstLine bool) (*State, []Region, error) {
	return c.Tokenize(st, line, firstLine)
}

// Tokenize is the method form of the package-level Tokenize.
func (c *Compiler) Tokenize(st *State, line string, firstLine bool) (*State, []Region, error) {
	if st == nil {
		st = c.rootState
	}
	if line == "" {
		return st, nil, nil
	}
	t := &tokenizer{c: c, text: []rune(line), lineID: nextLineID(), firstLine: firstLine}
	return t.run(st)
}

// TokenizeLines tokenizes a document line by line, threading the state
// through. The first line is tokenized with firstLine set. It stops early
// when ctx is cancelled.
func TokenizeLines(ctx context.Context, c *Compiler, lines []string) ([][]Region, *State, error) {
	st := c.RootState()
	out := make([][]Region, len(lines))
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return out[:i], st, err
		}
		next, regions, err := c.Tokenize(st, line, i == 0)
		if err != nil {
			return out[:i], st, fmt.Errorf("line %d: %w", i+1, err)
		}
		st, out[i] = next, regions
	}
	return out, st, nil
}

// tokenizer holds one line being scanned.
type tokenizer struct {
	c         *Compiler
	text      []rune
	lineID    uint64
	firstLine bool
}

// step is the outcome of one search from a position.
type step struct {
	state    *State
	pos      int
	boundary bool
	regions  []Region
	// done ends the line; the rest of it becomes a tail region
	done bool
}

func (t *tokenizer) at(offset int) position {
	return position{line: t.lineID, offset: offset}
}

func (t *tokenizer) run(st *State) (*State, []Region, error) {
	var regions []Region
	pos := 0
	boundary := st.Cur().boundary

	for i, wf := range st.whileStack {
		ws := st.truncate(wf.depth)
		m, err := ws.Cur().reg.MatchAt(t.text, pos, t.firstLine, boundary)
		if err != nil {
			return nil, nil, err
		}
		if m == nil {
			log.Debug(log.CatTokenize, "while ended", "pattern", ws.Cur().reg.Pattern(), "index", i)
			st = st.truncate(wf.depth - 1)
			break
		}
		caps, err := t.captures(ws.nameScope(), m, wf.rule.whileCaptures)
		if err != nil {
			return nil, nil, err
		}
		regions = append(regions, caps...)
		pos = m.End()
		boundary = true
	}

	for pos < len(t.text) {
		s, err := t.search(st, pos, boundary)
		if err != nil {
			return nil, nil, err
		}
		if s == nil {
			break
		}
		regions = append(regions, s.regions...)
		if s.done {
			st, pos = s.state, s.pos
			break
		}
		if s.pos == pos && s.state == st {
			log.Warn(log.CatTokenize, "no progress, ending line", "pos", pos, "scope", st.Scope().String())
			break
		}
		st, pos, boundary = s.state, s.pos, s.boundary
	}

	if pos < len(t.text) {
		regions = append(regions, Region{Start: pos, End: len(t.text), Scope: st.Scope()})
	}
	return st, regions, nil
}

func (t *tokenizer) search(st *State, pos int, boundary bool) (*step, error) {
	switch r := st.Cur().rule.(type) {
	case *PatternRule:
		return t.searchChildren(st, r.regset, r.rules, pos, boundary)
	case *WhileRule:
		return t.searchChildren(st, r.regset, r.rules, pos, boundary)
	case *EndRule:
		end, err := st.Cur().reg.Search(t.text, pos, t.firstLine, boundary)
		if err != nil {
			return nil, err
		}
		if end != nil && end.Start() == pos {
			return t.endFrame(st, r, pos, end)
		}
		idx, m, err := r.regset.Search(t.text, pos, t.firstLine, boundary)
		if err != nil {
			return nil, err
		}
		switch {
		case end == nil:
			return t.dispatch(st, r.rules, idx, m, pos)
		case m == nil || end.Start() <= m.Start():
			return t.endFrame(st, r, pos, end)
		default:
			return t.dispatch(st, r.rules, idx, m, pos)
		}
	default:
		// a match rule subtokenizing a capture has nothing to search for
		return nil, nil
	}
}

func (t *tokenizer) searchChildren(st *State, set *RegSet, rules []*Rule, pos int, boundary bool) (*step, error) {
	idx, m, err := set.Search(t.text, pos, t.firstLine, boundary)
	if err != nil {
		return nil, err
	}
	return t.dispatch(st, rules, idx, m, pos)
}

// dispatch starts the rule whose start pattern matched.
func (t *tokenizer) dispatch(st *State, rules []*Rule, idx int, m *Match, pos int) (*step, error) {
	if m == nil {
		return nil, nil
	}
	var regions []Region
	if m.Start() > pos {
		regions = append(regions, Region{Start: pos, End: m.Start(), Scope: st.Scope()})
	}

	target, err := t.c.CompileRule(rules[idx])
	if err != nil {
		return nil, err
	}

	switch r := target.(type) {
	case *MatchRule:
		caps, err := t.captures(st.Scope().concat(r.name), m, r.captures)
		if err != nil {
			return nil, err
		}
		return &step{state: st, pos: m.End(), regions: append(regions, caps...)}, nil

	case *EndRule:
		return t.enter(st, r, r.name, r.contentName, r.end, r.beginCaptures, m, regions)

	case *WhileRule:
		return t.enter(st, r, r.name, r.contentName, r.while, r.beginCaptures, m, regions)

	default:
		return nil, fmt.Errorf("dispatch to %T: not a match or begin rule", target)
	}
}

// enter pushes a frame for a begin/end or begin/while rule.
func (t *tokenizer) enter(st *State, rule CompiledRule, name, contentName Scope, template string, beginCaptures []Capture, m *Match, regions []Region) (*step, error) {
	if m.Start() == m.End() && st.reenters(rule, t.at(m.Start())) {
		log.Warn(log.CatTokenize, "rule re-entered at the same position, ending line", "pos", m.Start(), "scope", st.Scope().String())
		return &step{state: st, pos: m.Start(), regions: regions, done: true}, nil
	}

	reg, err := t.c.regex.materialize(template, m)
	if err != nil {
		return nil, err
	}

	nameScope := st.Scope().concat(name)
	entry := &Entry{
		scope:    nameScope.concat(contentName),
		rule:     rule,
		start:    t.at(m.Start()),
		reg:      reg,
		boundary: m.End() == len(t.text),
	}

	caps, err := t.captures(nameScope, m, beginCaptures)
	if err != nil {
		return nil, err
	}

	var next *State
	if wr, ok := rule.(*WhileRule); ok {
		next = st.pushWhile(wr, entry)
	} else {
		next = st.push(entry)
	}
	return &step{state: next, pos: m.End(), boundary: true, regions: append(regions, caps...)}, nil
}

// endFrame closes the innermost begin/end frame at the end match m.
func (t *tokenizer) endFrame(st *State, r *EndRule, pos int, m *Match) (*step, error) {
	var regions []Region
	if m.Start() > pos {
		regions = append(regions, Region{Start: pos, End: m.Start(), Scope: st.Scope()})
	}
	caps, err := t.captures(st.nameScope(), m, r.endCaptures)
	if err != nil {
		return nil, err
	}
	regions = append(regions, caps...)

	popped := st.pop()
	if st.Cur().start != t.at(m.End()) {
		return &step{state: popped, pos: m.End(), regions: regions}, nil
	}

	// the frame opened and closed without consuming anything; step over
	// one character so the next search cannot reopen it in place
	if m.End() < len(t.text) {
		regions = append(regions, Region{Start: m.End(), End: m.End() + 1, Scope: popped.Scope()})
		return &step{state: popped, pos: m.End() + 1, regions: regions}, nil
	}
	return &step{state: popped, pos: m.End(), regions: regions, done: true}, nil
}
