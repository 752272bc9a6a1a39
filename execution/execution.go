package execution

import (
	"context"

	"github.com/jrife/crossquery/utils/log"
	"go.uber.org/zap"
)

// New creates the execution pipeline of a query. The pipeline
// is a ParallelContext over every partition of the collection,
// limited by a TopContext if cfg.Top is set. token resumes a query
// from a page's continuation token. It must have been emitted by a
// pipeline with the same configuration.
func New(ctx context.Context, cfg Config, token string) (Component, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	component, err := newPipeline(ctx, cfg, token)

	if err != nil {
		log.WithContext(ctx, cfg.Logger).Error("could not create query pipeline", zap.String("collection", cfg.CollectionID), zap.Error(err))
		cfg.Metrics.RecordError(cfg.CollectionID, errorKind(err))

		return nil, err
	}

	return component, nil
}

func newPipeline(ctx context.Context, cfg Config, token string) (Component, error) {
	newParallel := func(ctx context.Context, token string) (Component, error) {
		targets, err := ResolveContinuation(ctx, cfg, token)

		if err != nil {
			return nil, err
		}

		return NewParallelContext(cfg, targets), nil
	}

	if cfg.Top == nil {
		return newParallel(ctx, token)
	}

	return NewTopContext(ctx, *cfg.Top, token, newParallel)
}
