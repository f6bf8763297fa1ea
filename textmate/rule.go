package textmate

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Rule is one immutable node of a raw grammar: a match rule, a begin/end
// or begin/while pair, an include, or a container of child patterns.
//
// Rules are built through a ruleBuilder which interns them by structure,
// so two identical subtrees in the same repository scope are the same
// *Rule. The compiler memoizes on that pointer.
type Rule struct {
	id int

	name        Scope
	contentName Scope

	match    string
	begin    string
	end      string
	while    string
	include  string
	captures []Capture

	beginCaptures []Capture
	endCaptures   []Capture
	whileCaptures []Capture

	patterns   []*Rule
	repository *Repository
}

// Capture binds a group number of a match to the rule applied to its text.
type Capture struct {
	Group int
	Rule  *Rule
}

// Name returns the scope fragments the rule contributes.
func (r *Rule) Name() Scope { return r.name }

// Include returns the include reference, or "" when the rule is not an include.
func (r *Rule) Include() string { return r.include }

// Repository is a lexically scoped table of named rules. Lookups walk from
// the innermost repository outward.
type Repository struct {
	id     int
	parent *Repository
	rules  map[string]*Rule
}

// Lookup finds name in this repository or the nearest enclosing one.
func (r *Repository) Lookup(name string) (*Rule, bool) {
	for repo := r; repo != nil; repo = repo.parent {
		if rule, ok := repo.rules[name]; ok {
			return rule, true
		}
	}
	return nil, false
}

// ruleFile is the on-disk shape of a rule in JSON or YAML grammars.
type ruleFile struct {
	Name          string               `json:"name" yaml:"name"`
	ContentName   string               `json:"contentName" yaml:"contentName"`
	Match         string               `json:"match" yaml:"match"`
	Begin         string               `json:"begin" yaml:"begin"`
	End           string               `json:"end" yaml:"end"`
	While         string               `json:"while" yaml:"while"`
	Include       string               `json:"include" yaml:"include"`
	Captures      map[string]*ruleFile `json:"captures" yaml:"captures"`
	BeginCaptures map[string]*ruleFile `json:"beginCaptures" yaml:"beginCaptures"`
	EndCaptures   map[string]*ruleFile `json:"endCaptures" yaml:"endCaptures"`
	WhileCaptures map[string]*ruleFile `json:"whileCaptures" yaml:"whileCaptures"`
	Patterns      []*ruleFile          `json:"patterns" yaml:"patterns"`
	Repository    map[string]*ruleFile `json:"repository" yaml:"repository"`
}

// ruleBuilder constructs rules and repositories, interning rules by
// structural key. It is not safe for concurrent use; the registry calls it
// under its lock.
type ruleBuilder struct {
	rules      map[string]*Rule
	nextRule   int
	nextRepo   int
	internHits int
}

func newRuleBuilder() *ruleBuilder {
	return &ruleBuilder{rules: make(map[string]*Rule)}
}

func (b *ruleBuilder) newRepository(parent *Repository) *Repository {
	b.nextRepo++
	return &Repository{id: b.nextRepo, parent: parent, rules: make(map[string]*Rule)}
}

// repository builds a repository block whose rules see the block itself,
// so the table is created empty and filled afterwards.
func (b *ruleBuilder) repository(parent *Repository, defs map[string]*ruleFile) (*Repository, error) {
	if defs == nil {
		return parent, nil
	}
	repo := b.newRepository(parent)
	for _, name := range sortedKeys(defs) {
		rule, err := b.rule(defs[name], repo)
		if err != nil {
			return nil, fmt.Errorf("repository %q: %w", name, err)
		}
		repo.rules[name] = rule
	}
	return repo, nil
}

func (b *ruleBuilder) rule(def *ruleFile, parent *Repository) (*Rule, error) {
	if def == nil {
		def = &ruleFile{}
	}
	repo, err := b.repository(parent, def.Repository)
	if err != nil {
		return nil, err
	}

	r := &Rule{
		name:        splitName(def.Name),
		contentName: splitName(def.ContentName),
		match:       def.Match,
		begin:       def.Begin,
		end:         def.End,
		while:       def.While,
		include:     def.Include,
		repository:  repo,
	}

	if r.captures, err = b.captures(def.Captures, repo); err != nil {
		return nil, err
	}
	if r.beginCaptures, err = b.captures(def.BeginCaptures, repo); err != nil {
		return nil, err
	}
	if r.endCaptures, err = b.captures(def.EndCaptures, repo); err != nil {
		return nil, err
	}
	if r.whileCaptures, err = b.captures(def.WhileCaptures, repo); err != nil {
		return nil, err
	}

	if r.include == "" && r.match == "" && r.begin != "" {
		// some grammars (xml among them) leave a begin rule open forever
		if r.end == "" && r.while == "" {
			r.end = impossiblePattern
		}
		// captures on a begin rule stands in for the missing begin/end
		// (or begin/while) captures
		if len(r.captures) > 0 {
			if len(r.beginCaptures) == 0 {
				r.beginCaptures = r.captures
			}
			if r.end == "" {
				if len(r.whileCaptures) == 0 {
					r.whileCaptures = r.captures
				}
			} else if len(r.endCaptures) == 0 {
				r.endCaptures = r.captures
			}
			r.captures = nil
		}
	}

	if len(def.Patterns) > 0 {
		r.patterns = make([]*Rule, len(def.Patterns))
		for i, p := range def.Patterns {
			if r.patterns[i], err = b.rule(p, repo); err != nil {
				return nil, err
			}
		}
	}

	return b.intern(r), nil
}

func (b *ruleBuilder) captures(defs map[string]*ruleFile, repo *Repository) ([]Capture, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]Capture, 0, len(defs))
	for key, def := range defs {
		group, err := strconv.Atoi(key)
		if err != nil || group < 0 {
			return nil, fmt.Errorf("%w %q", ErrInvalidCapture, key)
		}
		rule, err := b.rule(def, repo)
		if err != nil {
			return nil, err
		}
		out = append(out, Capture{Group: group, Rule: rule})
	}
	slices.SortFunc(out, func(a, c Capture) int { return a.Group - c.Group })
	return out, nil
}

func (b *ruleBuilder) intern(r *Rule) *Rule {
	key := r.structuralKey()
	if existing, ok := b.rules[key]; ok {
		b.internHits++
		return existing
	}
	b.nextRule++
	r.id = b.nextRule
	b.rules[key] = r
	return r
}

// structuralKey identifies a rule by its fields. Children are already
// interned, so their ids stand in for their structure.
func (r *Rule) structuralKey() string {
	var sb strings.Builder
	writeStr := func(s string) {
		sb.WriteString(strconv.Itoa(len(s)))
		sb.WriteByte(':')
		sb.WriteString(s)
	}
	writeCaptures := func(cs []Capture) {
		sb.WriteByte('[')
		for _, c := range cs {
			fmt.Fprintf(&sb, "%d=%d,", c.Group, c.Rule.id)
		}
		sb.WriteByte(']')
	}

	writeStr(r.name.String())
	writeStr(r.contentName.String())
	writeStr(r.match)
	writeStr(r.begin)
	writeStr(r.end)
	writeStr(r.while)
	writeStr(r.include)
	writeCaptures(r.captures)
	writeCaptures(r.beginCaptures)
	writeCaptures(r.endCaptures)
	writeCaptures(r.whileCaptures)
	sb.WriteByte('(')
	for _, p := range r.patterns {
		fmt.Fprintf(&sb, "%d,", p.id)
	}
	sb.WriteByte(')')
	if r.repository != nil {
		fmt.Fprintf(&sb, "@%d", r.repository.id)
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
