package textmate

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zjrosen/tmtokenize/internal/config"
	"github.com/zjrosen/tmtokenize/internal/log"
	"github.com/zjrosen/tmtokenize/internal/tracing"
)

// NewGrammarsFromConfigFile builds a registry from a YAML config file. It
// installs logging and tracing as configured and starts watching the
// grammar directories when enabled. The returned shutdown func undoes all
// of that, closes the registry, and must be called once the registry is no
// longer used. An empty
// path uses the default configuration.
func NewGrammarsFromConfigFile(path string) (*Grammars, func(context.Context) error, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	var cleanups []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = append(errs, cleanups[i](ctx))
		}
		return errors.Join(errs...)
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	switch cfg.Log.Path {
	case "":
	case config.LogStderr:
		restore := log.InitWriter(os.Stderr, level)
		cleanups = append(cleanups, func(context.Context) error { restore(); return nil })
	default:
		closeLog, err := log.Init(cfg.Log.Path)
		if err != nil {
			return nil, nil, err
		}
		log.SetMinLevel(level)
		cleanups = append(cleanups, func(context.Context) error { closeLog(); return nil })
	}

	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, fmt.Errorf("tracing: %w", err)
	}
	if provider.Enabled() {
		cleanups = append(cleanups, provider.Shutdown)
	}

	g := NewGrammarsWithOptions(Options{
		MatchTimeout:      cfg.Regex.MatchTimeout,
		CacheExpiration:   cfg.Regex.CacheExpiration,
		BackrefExpiration: cfg.Regex.BackrefExpiration,
		Tracer:            provider.Tracer(),
	}, cfg.GrammarDirs...)
	cleanups = append(cleanups, func(context.Context) error { g.Close(); return nil })

	if cfg.Watch.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		if err := g.Watch(ctx, cfg.Watch.Debounce); err != nil {
			cancel()
			_ = shutdown(context.Background())
			return nil, nil, err
		}
		cleanups = append(cleanups, func(context.Context) error { cancel(); return nil })
	}

	return g, shutdown, nil
}
