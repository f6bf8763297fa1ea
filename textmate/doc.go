// Package textmate tokenizes text line by line with TextMate grammars.
//
// A Grammars registry discovers grammar files (JSON or YAML) in a list of
// directories and loads them on demand. A Compiler, obtained from the
// registry for a root scope or for a file name, lowers the grammar's rules
// into searchable form as the tokenizer reaches them. Tokenize scans one
// line from a State and returns the regions of the line, each tagged with
// its scope stack, together with the State to carry into the next line:
//
//	g := textmate.NewGrammars("grammars")
//	c, err := g.CompilerForFile("main.py", firstLine)
//	if err != nil {
//		return err
//	}
//	st := c.RootState()
//	for i, line := range lines {
//		var regions []textmate.Region
//		st, regions, err = c.Tokenize(st, line, i == 0)
//		if err != nil {
//			return err
//		}
//		emit(regions)
//	}
//
// Region offsets count runes. States are immutable and may be stored per
// line to resume tokenization after an edit.
package textmate
