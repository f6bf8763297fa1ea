package textmate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/tmtokenize/internal/log"
	"github.com/zjrosen/tmtokenize/internal/pubsub"
	"github.com/zjrosen/tmtokenize/internal/tracing"
)

// Grammars is a registry of grammar files discovered in a list of
// directories. Grammars are read and parsed on first use and compilers
// are built once per root scope.
//
// A Grammars is safe for concurrent use.
type Grammars struct {
	opts   Options
	dirs   []string
	regex  *regexCache
	tracer trace.Tracer
	events *pubsub.Broker[GrammarEvent]

	mu        sync.Mutex
	builder   *ruleBuilder
	files     map[string]grammarSource // discovered, not yet read
	raw       map[string]*grammarFile
	fileTypes []fileTypeEntry
	firstLine []firstLineEntry
	parsed    map[string]*Grammar
	compilers map[string]*Compiler
}

type grammarSource struct {
	path   string
	format grammarFormat
}

type fileTypeEntry struct {
	scope string
	types []string
}

type firstLineEntry struct {
	scope string
	reg   *Reg
}

// NewGrammars discovers grammar files (*.json, *.yaml, *.yml) in dirs. A
// file's name without extension is its scope. When two directories hold
// the same scope, the earlier directory wins. Missing directories are
// skipped.
func NewGrammars(dirs ...string) *Grammars {
	return NewGrammarsWithOptions(DefaultOptions(), dirs...)
}

// NewGrammarsWithOptions is NewGrammars with explicit options.
func NewGrammarsWithOptions(opts Options, dirs ...string) *Grammars {
	opts = opts.withDefaults()
	g := &Grammars{
		opts:      opts,
		dirs:      slices.Clone(dirs),
		regex:     newRegexCache(opts),
		tracer:    opts.Tracer,
		events:    pubsub.NewBroker[GrammarEvent](),
		builder:   newRuleBuilder(),
		files:     make(map[string]grammarSource),
		raw:       map[string]*grammarFile{UnknownScope: unknownGrammarFile()},
		parsed:    make(map[string]*Grammar),
		compilers: make(map[string]*Compiler),
	}
	for _, dir := range g.dirs {
		g.scanDir(dir)
	}
	log.Info(log.CatGrammar, "grammars discovered", "dirs", len(g.dirs), "files", len(g.files))
	return g
}

func (g *Grammars) scanDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn(log.CatGrammar, "skipping grammar dir", "dir", dir, "error", err)
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		g.addFileLocked(filepath.Join(dir, e.Name()))
	}
}

// addFileLocked registers a grammar file unless its scope is already known.
func (g *Grammars) addFileLocked(path string) bool {
	scope, format, ok := grammarFileScope(path)
	if !ok {
		return false
	}
	if _, known := g.files[scope]; known {
		return false
	}
	if _, known := g.raw[scope]; known {
		return false
	}
	g.files[scope] = grammarSource{path: path, format: format}
	log.Debug(log.CatGrammar, "grammar file registered", "scope", scope, "path", path)
	return true
}

// Scopes returns every scope the registry can load, sorted.
func (g *Grammars) Scopes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.files)+len(g.raw))
	for s := range g.files {
		out = append(out, s)
	}
	for s := range g.raw {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// rawLocked reads and decodes the grammar file for scope once. A file that
// fails to decode stays registered and fails again on the next request.
func (g *Grammars) rawLocked(scope string) (*grammarFile, error) {
	if gf, ok := g.raw[scope]; ok {
		return gf, nil
	}
	src, ok := g.files[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGrammarNotFound, scope)
	}

	data, err := os.ReadFile(src.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrGrammarParse, src.path, err)
	}
	gf, err := decodeGrammarFile(data, src.format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.path, err)
	}

	var firstLine *Reg
	if gf.FirstLineMatch != "" {
		if firstLine, err = g.regex.reg(gf.FirstLineMatch); err != nil {
			return nil, fmt.Errorf("%s: firstLineMatch: %w", src.path, err)
		}
	}
	// kept sorted by scope so selection does not depend on load order
	if len(gf.FileTypes) > 0 {
		i, _ := slices.BinarySearchFunc(g.fileTypes, scope, func(e fileTypeEntry, s string) int { return strings.Compare(e.scope, s) })
		g.fileTypes = slices.Insert(g.fileTypes, i, fileTypeEntry{scope: scope, types: gf.FileTypes})
	}
	if firstLine != nil {
		i, _ := slices.BinarySearchFunc(g.firstLine, scope, func(e firstLineEntry, s string) int { return strings.Compare(e.scope, s) })
		g.firstLine = slices.Insert(g.firstLine, i, firstLineEntry{scope: scope, reg: firstLine})
	}

	delete(g.files, scope)
	g.raw[scope] = gf
	log.Debug(log.CatGrammar, "grammar read", "scope", scope, "path", src.path)
	return gf, nil
}

// GrammarForScope returns the parsed grammar registered under scope.
func (g *Grammars) GrammarForScope(scope string) (*Grammar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gr, ok := g.parsed[scope]; ok {
		return gr, nil
	}

	_, span := g.tracer.Start(context.Background(), tracing.SpanGrammarLoad,
		trace.WithAttributes(attribute.String(tracing.AttrScope, scope)))
	defer span.End()
	path := g.files[scope].path
	if path != "" {
		span.SetAttributes(attribute.String(tracing.AttrGrammarPath, path))
	}

	gf, err := g.rawLocked(scope)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.events.Publish(EventGrammarFailed, GrammarEvent{Scope: scope, Path: path, Err: err})
		return nil, err
	}
	before := g.builder.internHits
	gr, err := buildGrammar(gf, g.builder)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.events.Publish(EventGrammarFailed, GrammarEvent{Scope: scope, Path: path, Err: err})
		return nil, err
	}
	span.SetAttributes(
		attribute.Int(tracing.AttrRuleCount, g.builder.nextRule),
		attribute.Int(tracing.AttrInternHits, g.builder.internHits-before),
	)

	g.parsed[scope] = gr
	g.events.Publish(EventGrammarLoaded, GrammarEvent{Scope: scope, Path: path})
	log.Info(log.CatGrammar, "grammar loaded", "scope", scope, "patterns", len(gr.patterns))
	return gr, nil
}

// CompilerForScope returns the compiler rooted at scope's grammar, building
// it on first request.
func (g *Grammars) CompilerForScope(scope string) (*Compiler, error) {
	g.mu.Lock()
	c, ok := g.compilers[scope]
	g.mu.Unlock()
	if ok {
		return c, nil
	}

	gr, err := g.GrammarForScope(scope)
	if err != nil {
		return nil, err
	}

	_, span := g.tracer.Start(context.Background(), tracing.SpanCompilerNew,
		trace.WithAttributes(attribute.String(tracing.AttrScope, scope)))
	defer span.End()

	// built outside the lock: compiling resolves includes through the registry
	c, err = newCompiler(g, gr)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrPatterns, c.rootRule.regset.Len()))

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.compilers[scope]; ok {
		return existing, nil
	}
	g.compilers[scope] = c
	g.events.Publish(EventCompilerReady, GrammarEvent{Scope: scope})
	return c, nil
}

// BlankCompiler returns the compiler for the built-in fallback grammar.
func (g *Grammars) BlankCompiler() *Compiler {
	c, err := g.CompilerForScope(UnknownScope)
	if err != nil {
		// the fallback grammar is built in and has no patterns
		panic(fmt.Sprintf("textmate: fallback grammar: %v", err))
	}
	return c
}

// CompilerForFile picks a grammar for a file from its extension, then from
// its first line. Extensions of grammars already read are tried first; if
// none claims the file, every remaining grammar is read before extensions
// are tried again and first lines are considered. When nothing matches the
// fallback grammar is used.
func (g *Grammars) CompilerForFile(filename, firstLine string) (*Compiler, error) {
	ext := fileExtension(filename)
	line := []rune(firstLine)

	g.mu.Lock()
	scope, ok := g.byExtensionLocked(ext)
	if !ok {
		g.readAllLocked()
		if scope, ok = g.byExtensionLocked(ext); !ok {
			scope, ok = g.byFirstLineLocked(line)
		}
	}
	g.mu.Unlock()

	if !ok {
		log.Debug(log.CatGrammar, "no grammar for file", "file", filename)
		return g.BlankCompiler(), nil
	}
	log.Debug(log.CatGrammar, "grammar for file", "file", filename, "scope", scope)
	return g.CompilerForScope(scope)
}

func (g *Grammars) byExtensionLocked(ext string) (string, bool) {
	for _, ft := range g.fileTypes {
		if slices.Contains(ft.types, ext) {
			return ft.scope, true
		}
	}
	return "", false
}

// byFirstLineLocked returns the first grammar whose firstLineMatch matches
// at the start of line.
func (g *Grammars) byFirstLineLocked(firstLine []rune) (string, bool) {
	for _, fl := range g.firstLine {
		m, err := fl.reg.MatchAt(firstLine, 0, true, true)
		if err != nil {
			log.Warn(log.CatGrammar, "firstLineMatch failed", "scope", fl.scope, "error", err)
			continue
		}
		if m != nil {
			return fl.scope, true
		}
	}
	return "", false
}

// readAllLocked reads every grammar not read yet. Files that fail to read
// are logged and skipped so the others can still be picked.
func (g *Grammars) readAllLocked() {
	pending := make([]string, 0, len(g.files))
	for scope := range g.files {
		pending = append(pending, scope)
	}
	slices.Sort(pending)
	for _, scope := range pending {
		if _, err := g.rawLocked(scope); err != nil {
			log.Warn(log.CatGrammar, "skipping unreadable grammar", "scope", scope, "error", err)
		}
	}
}

// fileExtension returns the text after the last dot of the file name, or
// the whole name when it has no dot, so "Makefile" matches fileTypes
// entries like "Makefile".
func fileExtension(filename string) string {
	base := filepath.Base(filename)
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return base[i+1:]
	}
	return base
}

// Stats is a snapshot of the registry's caches and event feed.
type Stats struct {
	Patterns      int   // interned regexes, including expired ones not yet evicted
	RegSets       int   // interned regsets
	Backrefs      int   // end/while regexes expanded from begin matches
	Subscribers   int   // open event subscriptions
	DroppedEvents int64 // deliveries skipped because a subscriber was full
}

// Stats reports cache sizes and event delivery counters.
func (g *Grammars) Stats() Stats {
	return Stats{
		Patterns:      g.regex.regStore.ItemCount(),
		RegSets:       g.regex.setStore.ItemCount(),
		Backrefs:      g.regex.backrefStore.ItemCount(),
		Subscribers:   g.events.SubscriberCount(),
		DroppedEvents: g.events.Dropped(),
	}
}

// Close closes every event subscription and drops cached patterns.
// Compilers already built keep working and later calls recompile patterns
// on demand, but no further events are delivered.
func (g *Grammars) Close() {
	st := g.Stats()
	g.events.Close()
	g.regex.flush()
	log.Info(log.CatGrammar, "grammars closed", "patterns", st.Patterns, "backrefs", st.Backrefs, "dropped_events", st.DroppedEvents)
}
