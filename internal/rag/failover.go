package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/insightpdf/internal/llm"
)

// ProviderFactory builds a provider on demand.
type ProviderFactory func() (llm.Provider, error)

// Failover runs a pipeline on the primary provider and, when the primary
// reports a capacity failure, reruns it once on the secondary. The secondary
// is built on first use and reused for the life of the process.
type Failover struct {
	primary   llm.Provider
	factory   ProviderFactory
	logger    zerolog.Logger
	once      sync.Once
	secondary llm.Provider
	err       error
}

// NewFailover returns a controller. A nil factory disables the retry.
func NewFailover(primary llm.Provider, secondary ProviderFactory, logger zerolog.Logger) *Failover {
	return &Failover{primary: primary, factory: secondary, logger: logger}
}

// StaticProvider adapts an already-built provider to a ProviderFactory.
func StaticProvider(p llm.Provider) ProviderFactory {
	if p == nil {
		return nil
	}
	return func() (llm.Provider, error) { return p, nil }
}

func (f *Failover) secondaryProvider() (llm.Provider, error) {
	f.once.Do(func() {
		f.secondary, f.err = f.factory()
		if f.err == nil && f.secondary == nil {
			f.err = fmt.Errorf("secondary provider factory returned nil")
		}
	})
	return f.secondary, f.err
}

// Do calls fn with the primary provider, then at most once more with the
// secondary provider if the first error is a capacity failure.
func (f *Failover) Do(ctx context.Context, fn func(context.Context, llm.Provider) error) error {
	err := fn(ctx, f.primary)
	if err == nil || !llm.IsCapacity(err) || f.factory == nil {
		return err
	}

	secondary, buildErr := f.secondaryProvider()
	if buildErr != nil {
		return fmt.Errorf("%w (secondary model unavailable: %v)", err, buildErr)
	}

	f.logger.Warn().
		Err(err).
		Str("primary", f.primary.Name()).
		Str("primary_model", llm.Model(f.primary)).
		Str("secondary_model", llm.Model(secondary)).
		Msg("primary model at capacity, retrying with secondary")

	if err := fn(ctx, secondary); err != nil {
		return err
	}
	f.logger.Info().Str("model", llm.Model(secondary)).Msg("secondary model succeeded")
	return nil
}
