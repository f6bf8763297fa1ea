package textmate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zjrosen/tmtokenize/internal/log"
	"github.com/zjrosen/tmtokenize/internal/watcher"
)

// Watch registers grammar files created in the registry's directories
// after construction, until ctx is done. Scopes already known are never
// replaced, so a running compiler never sees its grammar change.
func (g *Grammars) Watch(ctx context.Context, debounce time.Duration) error {
	cfg := watcher.DefaultConfig(g.dirs...)
	if debounce > 0 {
		cfg.DebounceDur = debounce
	}
	cfg.Match = func(path string) bool {
		_, _, ok := grammarFileScope(path)
		return ok
	}

	w, err := watcher.New(cfg)
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return fmt.Errorf("watching grammar dirs: %w", err)
	}

	go func() {
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case paths := <-changes:
				g.register(paths)
			}
		}
	}()
	return nil
}

func (g *Grammars) register(paths []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range paths {
		if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if g.addFileLocked(p) {
			scope, _, _ := grammarFileScope(p)
			g.events.Publish(EventGrammarAdded, GrammarEvent{Scope: scope, Path: p})
			log.Info(log.CatWatcher, "grammar added", "path", p)
		}
	}
}
