package textmate

import "sync/atomic"

// position identifies where a frame was entered: which tokenized line and
// the rune offset within it. Every line handed to the tokenizer gets a
// fresh identity, so a frame opened on an earlier line never compares equal
// to a position on the current one, even when the text is identical.
type position struct {
	line   uint64
	offset int
}

var lineSeq atomic.Uint64

func nextLineID() uint64 { return lineSeq.Add(1) }

// Entry is one frame of the tokenizer stack.
type Entry struct {
	scope    Scope
	rule     CompiledRule
	start    position
	reg      *Reg
	boundary bool
}

// Scope returns the scope applied to text inside the frame.
func (e *Entry) Scope() Scope { return e.scope }

// Rule returns the compiled rule that opened the frame.
func (e *Entry) Rule() CompiledRule { return e.rule }

// whileFrame marks a while rule on the stack; depth is the stack length
// right after its frame was pushed.
type whileFrame struct {
	rule  *WhileRule
	depth int
}

// State is the tokenizer state carried from one line to the next. States
// are immutable: every transition returns a new State and never modifies
// the one it was derived from, so a State may be kept and reused.
type State struct {
	entries    []*Entry
	whileStack []whileFrame
}

func newState(root *Entry) *State {
	return &State{entries: []*Entry{root}}
}

// Cur returns the innermost frame.
func (s *State) Cur() *Entry { return s.entries[len(s.entries)-1] }

// Depth returns the number of frames on the stack. It is at least one.
func (s *State) Depth() int { return len(s.entries) }

// Scope returns the scope of the innermost frame.
func (s *State) Scope() Scope { return s.Cur().scope }

// Equal reports whether two states hold the same frames and while stack.
// Line identities are compared only by offset, so a state that leaves a
// line unchanged is Equal to the one that entered it.
func (s *State) Equal(o *State) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.entries) != len(o.entries) || len(s.whileStack) != len(o.whileStack) {
		return false
	}
	for i, e := range s.entries {
		f := o.entries[i]
		if e.rule != f.rule || e.boundary != f.boundary || e.start.offset != f.start.offset {
			return false
		}
		if e.reg.Pattern() != f.reg.Pattern() || !e.scope.Equal(f.scope) {
			return false
		}
	}
	for i, w := range s.whileStack {
		if w != o.whileStack[i] {
			return false
		}
	}
	return true
}

// nameScope is the scope of the innermost frame's begin and end text: the
// parent's scope plus the rule name, without contentName.
func (s *State) nameScope() Scope {
	parent := s.entries[0].scope
	if len(s.entries) > 1 {
		parent = s.entries[len(s.entries)-2].scope
	}
	return parent.concat(s.Cur().rule.Name())
}

// reenters reports whether rule already has a frame among the frames
// entered at p.
func (s *State) reenters(rule CompiledRule, p position) bool {
	for i := len(s.entries) - 1; i > 0 && s.entries[i].start == p; i-- {
		if s.entries[i].rule == rule {
			return true
		}
	}
	return false
}

func (s *State) push(e *Entry) *State {
	entries := make([]*Entry, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	return &State{entries: append(entries, e), whileStack: s.whileStack}
}

func (s *State) pushWhile(r *WhileRule, e *Entry) *State {
	next := s.push(e)
	ws := make([]whileFrame, len(s.whileStack), len(s.whileStack)+1)
	copy(ws, s.whileStack)
	next.whileStack = append(ws, whileFrame{rule: r, depth: len(next.entries)})
	return next
}

// pop drops the innermost frame together with any while frame pushed at or
// above it. The root frame is never popped.
func (s *State) pop() *State {
	if len(s.entries) <= 1 {
		return s
	}
	return s.truncate(len(s.entries) - 1)
}

// truncate keeps the first depth frames.
func (s *State) truncate(depth int) *State {
	ws := s.whileStack
	for len(ws) > 0 && ws[len(ws)-1].depth > depth {
		ws = ws[:len(ws)-1]
	}
	return &State{entries: s.entries[:depth:depth], whileStack: ws[:len(ws):len(ws)]}
}
