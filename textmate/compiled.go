package textmate

// CompiledRule is one of *MatchRule, *PatternRule, *EndRule or *WhileRule.
// Children and capture rules stay raw and are compiled on first use.
type CompiledRule interface {
	Name() Scope
	compiledRule()
}

// MatchRule is a terminal rule: a single pattern whose groups may be
// subtokenized by capture rules.
type MatchRule struct {
	name     Scope
	captures []Capture
}

func (r *MatchRule) Name() Scope   { return r.name }
func (r *MatchRule) compiledRule() {}

// PatternRule is a container. Its regset holds the start patterns of its
// flattened children; rules[i] is dispatched when alternative i wins.
type PatternRule struct {
	name   Scope
	regset *RegSet
	rules  []*Rule
}

func (r *PatternRule) Name() Scope   { return r.name }
func (r *PatternRule) compiledRule() {}

// EndRule is entered by its begin pattern and left when end matches.
// end is a template: back-references are expanded against the begin match
// when the frame is pushed.
type EndRule struct {
	name          Scope
	contentName   Scope
	beginCaptures []Capture
	endCaptures   []Capture
	end           string
	regset        *RegSet
	rules         []*Rule
}

func (r *EndRule) Name() Scope   { return r.name }
func (r *EndRule) compiledRule() {}

// WhileRule is entered by its begin pattern and stays open for as long as
// each following line matches while at the scan position.
type WhileRule struct {
	name          Scope
	contentName   Scope
	beginCaptures []Capture
	whileCaptures []Capture
	while         string
	regset        *RegSet
	rules         []*Rule
}

func (r *WhileRule) Name() Scope   { return r.name }
func (r *WhileRule) compiledRule() {}
