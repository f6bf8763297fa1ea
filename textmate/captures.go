package textmate

import (
	"slices"

	"github.com/zjrosen/tmtokenize/internal/log"
)

// captures splits the text of m into regions: group text is tokenized
// by its capture rule, everything else gets scope.
//
// Captures are applied in group order. A group nested inside an earlier
// group replaces the part of the earlier group's regions it covers, so
// the result stays contiguous. Groups that did not participate, are empty,
// or fall outside the match are skipped.
func (t *tokenizer) captures(scope Scope, m *Match, caps []Capture) ([]Region, error) {
	var out []Region
	pos, posEnd := m.Start(), m.End()

	for _, cp := range caps {
		start, end, ok := m.Group(cp.Group)
		if !ok {
			continue
		}
		start, end = max(start, m.Start()), min(end, posEnd)
		if start >= end {
			continue
		}

		rule, err := t.c.CompileRule(cp.Rule)
		if err != nil {
			return nil, err
		}

		if start < pos && len(out) > 0 {
			j := len(out) - 1
			for j > 0 && start < out[j-1].End {
				j--
			}
			old := out[j]
			if start < old.Start || end > old.End {
				log.Debug(log.CatTokenize, "capture crosses an earlier capture, skipped", "group", cp.Group)
				continue
			}
			inner, err := t.inner(start, end, old.Scope, rule)
			if err != nil {
				return nil, err
			}
			var repl []Region
			if start > old.Start {
				repl = append(repl, Region{Start: old.Start, End: start, Scope: old.Scope})
			}
			repl = append(repl, inner...)
			if end < old.End {
				repl = append(repl, Region{Start: end, End: old.End, Scope: old.Scope})
			}
			out = slices.Replace(out, j, j+1, repl...)
			continue
		}

		if start > pos {
			out = append(out, Region{Start: pos, End: start, Scope: scope})
		}
		inner, err := t.inner(start, end, scope, rule)
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
		pos = end
	}

	if pos < posEnd {
		out = append(out, Region{Start: pos, End: posEnd, Scope: scope})
	}
	return out, nil
}

// inner tokenizes text[start:end] on its own, from a root frame for rule,
// and shifts the regions back to line offsets.
func (t *tokenizer) inner(start, end int, scope Scope, rule CompiledRule) ([]Region, error) {
	sub := &tokenizer{
		c:      t.c,
		text:   t.text[start:end],
		lineID: nextLineID(),
	}
	root := newState(&Entry{
		scope: scope.concat(rule.Name()),
		rule:  rule,
		start: sub.at(0),
		reg:   t.c.rootState.Cur().reg,
	})
	_, regions, err := sub.run(root)
	if err != nil {
		return nil, err
	}
	for i := range regions {
		regions[i] = regions[i].shift(start)
	}
	return regions, nil
}
