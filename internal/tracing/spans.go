package tracing

// Span names.
const (
	SpanGrammarLoad = "textmate.grammar.load"
	SpanCompilerNew = "textmate.compiler.new"
)

// Span attribute keys.
const (
	AttrScope       = "textmate.scope"
	AttrGrammarPath = "textmate.grammar.path"
	AttrRuleCount   = "textmate.rule.count"
	AttrInternHits  = "textmate.rule.intern_hits"
	AttrPatterns    = "textmate.patterns"
)
