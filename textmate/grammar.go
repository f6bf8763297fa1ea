package textmate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnknownScope is the scope of the always-present fallback grammar. It has
// no patterns, so every line becomes one region scoped ("source.unknown").
const UnknownScope = "source.unknown"

// Grammar is a parsed grammar: its scope, the repository every top-level
// rule resolves "#name" includes against, and its top-level patterns.
type Grammar struct {
	scopeName      string
	fileTypes      []string
	firstLineMatch string
	repository     *Repository
	patterns       []*Rule
}

// ScopeName returns the grammar's root scope, e.g. "source.python".
func (g *Grammar) ScopeName() string { return g.scopeName }

// FileTypes returns the file extensions (without the dot) the grammar claims.
func (g *Grammar) FileTypes() []string { return g.fileTypes }

// FirstLineMatch returns the pattern tried against a file's first line, or "".
func (g *Grammar) FirstLineMatch() string { return g.firstLineMatch }

// Patterns returns the grammar's top-level rules.
func (g *Grammar) Patterns() []*Rule { return g.patterns }

// grammarFile is the on-disk shape of a grammar.
type grammarFile struct {
	ScopeName      string               `json:"scopeName" yaml:"scopeName"`
	FileTypes      []string             `json:"fileTypes" yaml:"fileTypes"`
	FirstLineMatch string               `json:"firstLineMatch" yaml:"firstLineMatch"`
	Patterns       []*ruleFile          `json:"patterns" yaml:"patterns"`
	Repository     map[string]*ruleFile `json:"repository" yaml:"repository"`
}

type grammarFormat int

const (
	formatJSON grammarFormat = iota
	formatYAML
)

// grammarExtensions maps recognised grammar file extensions to their format.
var grammarExtensions = map[string]grammarFormat{
	".json": formatJSON,
	".yaml": formatYAML,
	".yml":  formatYAML,
}

// grammarFileScope returns the scope a grammar file is registered under
// (its file name without the extension) and whether the file is a grammar.
func grammarFileScope(path string) (string, grammarFormat, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	format, ok := grammarExtensions[strings.ToLower(ext)]
	if !ok || len(base) == len(ext) {
		return "", 0, false
	}
	return strings.TrimSuffix(base, ext), format, true
}

func decodeGrammarFile(data []byte, format grammarFormat) (*grammarFile, error) {
	var gf grammarFile
	var err error
	switch format {
	case formatYAML:
		err = yaml.Unmarshal(data, &gf)
	default:
		err = json.Unmarshal(data, &gf)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrammarParse, err)
	}
	if gf.ScopeName == "" {
		return nil, fmt.Errorf("%w: missing scopeName", ErrGrammarParse)
	}
	if gf.Patterns == nil {
		return nil, fmt.Errorf("%w: %s: missing patterns", ErrGrammarParse, gf.ScopeName)
	}
	return &gf, nil
}

// buildGrammar turns a decoded grammar file into rules.
func buildGrammar(gf *grammarFile, b *ruleBuilder) (*Grammar, error) {
	repo, err := b.repository(nil, gf.Repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrGrammarParse, gf.ScopeName, err)
	}
	if repo == nil {
		repo = b.newRepository(nil)
	}

	g := &Grammar{
		scopeName:      gf.ScopeName,
		fileTypes:      gf.FileTypes,
		firstLineMatch: gf.FirstLineMatch,
		repository:     repo,
		patterns:       make([]*Rule, len(gf.Patterns)),
	}
	for i, p := range gf.Patterns {
		if g.patterns[i], err = b.rule(p, repo); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrGrammarParse, gf.ScopeName, err)
		}
	}
	return g, nil
}

func unknownGrammarFile() *grammarFile {
	return &grammarFile{ScopeName: UnknownScope, Patterns: []*ruleFile{}}
}
