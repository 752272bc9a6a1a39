package execution

import (
	"github.com/jrife/crossquery/metrics"
	"github.com/jrife/crossquery/routing"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the number of items requested
	// per fetch unless configured otherwise
	DefaultPageSize = 100
	// DefaultMaxDegreeOfParallelism is the number of
	// concurrent fetches unless configured otherwise
	DefaultMaxDegreeOfParallelism = 4
)

// Config configures a query execution
type Config struct {
	CollectionID string
	Query        QuerySpec
	// Top limits the query to its first *Top rows
	// if set
	Top *int
	// PageSize is the maximum number of items
	// requested per fetch
	PageSize               int
	MaxDegreeOfParallelism int
	Ordering               Ordering
	// Topology discovers the partition key ranges of
	// the collection. Required.
	Topology routing.Provider
	// Execute executes a request against a partition. Required.
	Execute Executor
	// CreateRequest overrides how requests are built from
	// the query and properties
	CreateRequest      RequestFactory
	RetryPolicyFactory RetryPolicyFactory
	IsSplit            SplitClassifier
	Properties         map[string]string
	Logger             *zap.Logger
	Metrics            metrics.Collector
}

func (cfg Config) withDefaults() Config {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	if cfg.MaxDegreeOfParallelism <= 0 {
		cfg.MaxDegreeOfParallelism = DefaultMaxDegreeOfParallelism
	}

	if cfg.CreateRequest == nil {
		cfg.CreateRequest = defaultRequestFactory(cfg.CollectionID, cfg.Query, cfg.Properties)
	}

	if cfg.RetryPolicyFactory == nil {
		cfg.RetryPolicyFactory = DefaultRetryPolicyFactory
	}

	if cfg.IsSplit == nil {
		cfg.IsSplit = IsPartitionSplit
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	return cfg
}

func (cfg Config) validate() error {
	if cfg.Topology == nil {
		return BadRequest("a topology provider is required")
	}

	if cfg.Execute == nil {
		return BadRequest("an executor is required")
	}

	if cfg.Top != nil && *cfg.Top < 0 {
		return BadRequest("top must not be negative: %d", *cfg.Top)
	}

	if cfg.Ordering != OrderingPartition && cfg.Ordering != OrderingResponse {
		return BadRequest("unknown ordering %d", cfg.Ordering)
	}

	return nil
}
