package textmate

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/tmtokenize/internal/tracing"
)

func TestGrammars_BlankCompiler(t *testing.T) {
	c := NewGrammars().BlankCompiler()
	require.Equal(t, UnknownScope, c.ScopeName())

	_, regions, err := c.Tokenize(nil, "anything at all", true)
	require.NoError(t, err)
	require.Equal(t, []Region{{Start: 0, End: 15, Scope: Scope{UnknownScope}}}, regions)
}

func TestGrammars_FirstDirWins(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeGrammar(t, first, "t.json", `{"scopeName": "t", "patterns": [{"match": "a", "name": "one"}]}`)
	writeGrammar(t, second, "t.json", `{"scopeName": "t", "patterns": [{"match": "a", "name": "two"}]}`)
	writeGrammar(t, second, "u.json", `{"scopeName": "u", "patterns": []}`)

	g := NewGrammars(first, second, filepath.Join(first, "missing"))
	c, err := g.CompilerForScope("t")
	require.NoError(t, err)

	_, regions, err := c.Tokenize(nil, "a", true)
	require.NoError(t, err)
	require.Equal(t, "t one", regions[0].Scope.String())

	_, err = g.CompilerForScope("u")
	require.NoError(t, err, "scopes only in the later dir are still found")
}

func TestGrammars_NotFound(t *testing.T) {
	g := NewGrammars(t.TempDir())

	_, err := g.GrammarForScope("source.nope")
	require.ErrorIs(t, err, ErrGrammarNotFound)

	_, err = g.CompilerForScope("source.nope")
	require.ErrorIs(t, err, ErrGrammarNotFound)
}

func TestGrammars_BrokenGrammarKeepsFailing(t *testing.T) {
	g := testdataGrammars()

	for range 2 {
		_, err := g.GrammarForScope("source.broken")
		require.ErrorIs(t, err, ErrGrammarParse)
	}
	require.Contains(t, g.Scopes(), "source.broken")
}

func TestGrammars_Scopes(t *testing.T) {
	g := testdataGrammars()
	want := []string{"source.broken", "source.demo", "source.embed", UnknownScope}
	require.Equal(t, want, g.Scopes())

	_, err := g.GrammarForScope("source.demo")
	require.NoError(t, err)
	require.Equal(t, want, g.Scopes(), "reading a grammar does not change the listing")
}

func TestGrammars_YAMLGrammar(t *testing.T) {
	gr, err := testdataGrammars().GrammarForScope("source.embed")
	require.NoError(t, err)
	require.Equal(t, "source.embed", gr.ScopeName())
	require.Equal(t, []string{"emb"}, gr.FileTypes())
	require.Len(t, gr.Patterns(), 3)
}

func TestGrammars_CompilerIdentity(t *testing.T) {
	g := testdataGrammars()
	a, err := g.CompilerForScope("source.demo")
	require.NoError(t, err)
	b, err := g.CompilerForScope("source.demo")
	require.NoError(t, err)
	require.Same(t, a, b)

	byFile, err := g.CompilerForFile("x.demo", "")
	require.NoError(t, err)
	require.Same(t, a, byFile)
}

func TestGrammars_CompilerForFile(t *testing.T) {
	dir := t.TempDir()
	writeGrammar(t, dir, "source.make.json", `{"scopeName": "source.make", "fileTypes": ["Makefile", "mk"], "patterns": []}`)

	tests := []struct {
		name      string
		dirs      []string
		filename  string
		firstLine string
		want      string
	}{
		{"extension", []string{"testdata"}, "/src/main.demo", "", "source.demo"},
		{"second extension", []string{"testdata"}, "notes.dm", "", "source.demo"},
		{"yaml grammar", []string{"testdata"}, "page.emb", "", "source.embed"},
		{"first line", []string{"testdata"}, "script", "#!/usr/bin/env demo", "source.demo"},
		{"extension before first line", []string{"testdata"}, "page.emb", "#!/usr/bin/env demo", "source.embed"},
		{"fallback", []string{"testdata"}, "x.zzz", "hello", UnknownScope},
		{"basename without dot", []string{dir}, "/src/Makefile", "", "source.make"},
		{"no extension no match", []string{dir}, "README", "", UnknownScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewGrammars(tt.dirs...).CompilerForFile(tt.filename, tt.firstLine)
			require.NoError(t, err)
			require.Equal(t, tt.want, c.ScopeName())
		})
	}
}

func TestGrammars_CompilerForFileAfterScopeLoad(t *testing.T) {
	g := testdataGrammars()
	_, err := g.GrammarForScope("source.embed")
	require.NoError(t, err)

	// source.demo has not been read yet; it must still be found
	c, err := g.CompilerForFile("a.dm", "")
	require.NoError(t, err)
	require.Equal(t, "source.demo", c.ScopeName())
}

func TestGrammars_ExtensionBeatsLoadedFirstLine(t *testing.T) {
	dir := t.TempDir()
	writeGrammar(t, dir, "a.json", `{"scopeName": "a", "firstLineMatch": "^#!", "patterns": []}`)
	writeGrammar(t, dir, "b.json", `{"scopeName": "b", "fileTypes": ["sh"], "patterns": []}`)
	g := NewGrammars(dir)

	_, err := g.GrammarForScope("a")
	require.NoError(t, err)

	c, err := g.CompilerForFile("x.sh", "#!/bin/sh")
	require.NoError(t, err)
	require.Equal(t, "b", c.ScopeName())

	c, err = g.CompilerForFile("x.txt", "#!/bin/sh")
	require.NoError(t, err)
	require.Equal(t, "a", c.ScopeName())
}

func TestGrammars_FirstLineMatchesAtStartOnly(t *testing.T) {
	c, err := testdataGrammars().CompilerForFile("script", "echo #!/usr/bin/env demo")
	require.NoError(t, err)
	require.Equal(t, UnknownScope, c.ScopeName())
}

func TestGrammars_BadFirstLineMatchNotRegistered(t *testing.T) {
	dir := t.TempDir()
	writeGrammar(t, dir, "bad.json", `{"scopeName": "bad", "fileTypes": ["bad"], "firstLineMatch": "(", "patterns": []}`)
	g := NewGrammars(dir)

	for range 3 {
		c, err := g.CompilerForFile("x.bad", "")
		require.NoError(t, err)
		require.Equal(t, UnknownScope, c.ScopeName())
	}
	require.Empty(t, g.fileTypes)
	require.Empty(t, g.firstLine)

	_, err := g.GrammarForScope("bad")
	require.ErrorIs(t, err, ErrRegexCompile)
}

func TestGrammars_Watch(t *testing.T) {
	dir := t.TempDir()
	writeGrammar(t, dir, "t.json", `{"scopeName": "t", "patterns": [{"match": "a", "name": "old"}]}`)
	g := NewGrammars(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Watch(ctx, 20*time.Millisecond))

	writeGrammar(t, dir, "late.json", `{"scopeName": "late", "patterns": [{"match": "b", "name": "new"}]}`)
	writeGrammar(t, dir, "notes.txt", "not a grammar")

	require.Eventually(t, func() bool {
		return slices.Contains(g.Scopes(), "late")
	}, 5*time.Second, 20*time.Millisecond)
	require.NotContains(t, g.Scopes(), "notes")

	c, err := g.CompilerForScope("late")
	require.NoError(t, err)
	_, regions, err := c.Tokenize(nil, "b", true)
	require.NoError(t, err)
	require.Equal(t, "late new", regions[0].Scope.String())
}

func TestGrammars_WatchMissingDir(t *testing.T) {
	g := NewGrammars(filepath.Join(t.TempDir(), "missing"))
	err := g.Watch(context.Background(), 0)
	require.Error(t, err)
}

func TestGrammars_TracesLoadAndCompile(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	g := NewGrammarsWithOptions(Options{Tracer: tp.Tracer("test")}, "testdata")
	_, err := g.CompilerForScope("source.demo")
	require.NoError(t, err)
	_, err = g.GrammarForScope("source.broken")
	require.Error(t, err)

	spans := rec.Ended()
	byName := make(map[string][]sdktrace.ReadOnlySpan)
	for _, s := range spans {
		byName[s.Name()] = append(byName[s.Name()], s)
	}

	require.Len(t, byName[tracing.SpanCompilerNew], 1)
	loads := byName[tracing.SpanGrammarLoad]
	require.Len(t, loads, 2)

	demo := loads[0]
	require.Contains(t, demo.Attributes(), attribute.String(tracing.AttrScope, "source.demo"))
	require.Contains(t, demo.Attributes(), attribute.String(tracing.AttrGrammarPath, filepath.Join("testdata", "source.demo.json")))

	broken := loads[1]
	require.Contains(t, broken.Attributes(), attribute.String(tracing.AttrScope, "source.broken"))
	require.Equal(t, "Error", broken.Status().Code.String())
}

func TestGrammars_Events(t *testing.T) {
	dir := t.TempDir()
	g := NewGrammars("testdata", dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	all := g.Subscribe(ctx)
	failures := g.Subscribe(ctx, EventGrammarFailed)

	_, err := g.CompilerForScope("source.demo")
	require.NoError(t, err)
	_, err = g.GrammarForScope("source.broken")
	require.Error(t, err)

	next := func(ch <-chan Event) Event {
		select {
		case ev := <-ch:
			return ev
		case <-time.After(5 * time.Second):
			require.FailNow(t, "no event")
			return Event{}
		}
	}

	loaded := next(all)
	require.Equal(t, EventGrammarLoaded, loaded.Type)
	require.Equal(t, "source.demo", loaded.Payload.Scope)
	require.Equal(t, filepath.Join("testdata", "source.demo.json"), loaded.Payload.Path)

	ready := next(all)
	require.Equal(t, EventCompilerReady, ready.Type)
	require.Equal(t, "source.demo", ready.Payload.Scope)

	failed := next(failures)
	require.Equal(t, EventGrammarFailed, failed.Type)
	require.Equal(t, "source.broken", failed.Payload.Scope)
	require.ErrorIs(t, failed.Payload.Err, ErrGrammarParse)
	require.Equal(t, EventGrammarFailed, next(all).Type)

	require.NoError(t, g.Watch(ctx, 20*time.Millisecond))
	added := g.Subscribe(ctx, EventGrammarAdded)
	writeGrammar(t, dir, "late.json", `{"scopeName": "late", "patterns": []}`)

	ev := next(added)
	require.Equal(t, "late", ev.Payload.Scope)
	require.Equal(t, filepath.Join(dir, "late.json"), ev.Payload.Path)
}

func TestGrammars_StatsAndClose(t *testing.T) {
	g := testdataGrammars()
	events := g.Subscribe(context.Background())

	c, err := g.CompilerForScope("source.demo")
	require.NoError(t, err)
	_, _, err = c.Tokenize(nil, `say "hi" and 'yo'`, true)
	require.NoError(t, err)

	st := g.Stats()
	require.Positive(t, st.Patterns)
	require.Positive(t, st.RegSets)
	require.Equal(t, 2, st.Backrefs)
	require.Equal(t, 1, st.Subscribers)
	require.Zero(t, st.DroppedEvents)

	g.Close()

	require.Equal(t, Stats{}, g.Stats())
	for range events {
	}
	_, ok := <-g.Subscribe(context.Background())
	require.False(t, ok, "subscriptions after Close are closed")

	_, regions, err := c.Tokenize(nil, `"still"`, true)
	require.NoError(t, err)
	require.Equal(t, "source.demo string.quoted", scopeOf(t, `"still"`, regions, "still"))
}
