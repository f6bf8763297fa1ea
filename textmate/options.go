package textmate

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/tmtokenize/internal/cachemanager"
)

// Options tunes a Grammars registry. The zero value is usable.
type Options struct {
	// MatchTimeout bounds a single regex search. Zero means no limit.
	MatchTimeout time.Duration

	// CacheExpiration is how long an interned pattern or regset is kept.
	// Zero keeps them for the life of the registry.
	CacheExpiration time.Duration

	// BackrefExpiration is how long an end/while pattern expanded from a
	// begin match is kept after its last use.
	BackrefExpiration time.Duration

	// Tracer receives grammar load and compile spans. Nil disables tracing.
	Tracer trace.Tracer
}

// DefaultOptions returns the options NewGrammars uses.
func DefaultOptions() Options {
	return Options{
		BackrefExpiration: cachemanager.DefaultExpiration,
	}
}

func (o Options) withDefaults() Options {
	if o.BackrefExpiration <= 0 {
		o.BackrefExpiration = cachemanager.DefaultExpiration
	}
	if o.CacheExpiration < 0 {
		o.CacheExpiration = 0
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("textmate")
	}
	return o
}
