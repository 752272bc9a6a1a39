package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrife/crossquery/checkpoint"
	"github.com/jrife/crossquery/execution"
	"github.com/jrife/crossquery/fake"
	"github.com/jrife/crossquery/metrics"
	"github.com/jrife/crossquery/routing"
	"github.com/jrife/crossquery/utils/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "run",
		Short: "Run a query against a generated collection",
		Long: `Run a query against an in-memory collection seeded with generated
documents. Pages are printed to stdout as JSON lines. Pass --query-id
to resume a query that was interrupted or stopped with --max-pages.`,
		RunE: runQuery,
		Args: cobra.NoArgs,
	}

	flags := command.Flags()

	addCommonFlags(flags)
	flags.String(queryIDFlag, "", "ID of the query to resume (a new query is started if empty)")
	flags.String(collectionFlag, "demo", "collection ID")
	flags.String(queryFlag, "SELECT * FROM c", "query text sent to every partition")
	flags.Int(documentsFlag, 1000, "number of generated documents")
	flags.Int(partitionsFlag, 4, "initial number of partitions")
	flags.Int(pageSizeFlag, execution.DefaultPageSize, "maximum number of documents per fetch")
	flags.Int(maxDegreeOfParallelismFlag, execution.DefaultMaxDegreeOfParallelism, "maximum number of concurrent fetches")
	flags.String(orderingFlag, execution.OrderingPartition.String(), "page ordering (partition or response)")
	flags.Int(topFlag, -1, "return only the first N documents (no limit if negative)")
	flags.Int(maxPagesFlag, 0, "stop after N pages, leaving the query resumable (0 reads every page)")
	flags.Int(splitEveryFlag, 0, "split a partition every N pages to exercise split recovery (0 disables)")
	flags.Float64(throttleFlag, 0, "maximum requests per second served by the collection (0 disables)")
	flags.Int(maxRetriesFlag, execution.DefaultMaxRetries, "maximum retries per fetch")
	flags.String(metricsAddrFlag, "", "serve Prometheus metrics on this address while the query runs")

	command.PreRun = bindFlagsFunc(flags)

	return command
}

// pageLine is the JSON line printed for each page
type pageLine struct {
	QueryID       string            `json:"queryId"`
	Page          int               `json:"page"`
	Range         string            `json:"range"`
	Items         int               `json:"items"`
	RequestCharge float64           `json:"requestCharge"`
	Retries       int               `json:"retries"`
	ActivityID    string            `json:"activityId"`
	Continuation  string            `json:"continuation"`
	Documents     []json.RawMessage `json:"documents"`
}

func parseOrdering(s string) (execution.Ordering, error) {
	for _, ordering := range []execution.Ordering{execution.OrderingPartition, execution.OrderingResponse} {
		if ordering.String() == s {
			return ordering, nil
		}
	}

	return 0, fmt.Errorf("invalid --%s %q", orderingFlag, s)
}

func runQuery(command *cobra.Command, _ []string) error {
	logger, err := newLogger()

	if err != nil {
		return err
	}

	defer logger.Sync() //nolint:errcheck

	ordering, err := parseOrdering(viper.GetString(orderingFlag))

	if err != nil {
		return err
	}

	store, err := checkpoint.Open(checkpoint.Config{Path: viper.GetString(checkpointsFlag), Logger: logger})

	if err != nil {
		return err
	}

	defer store.Close()

	progress, err := loadOrCreate(store)

	if err != nil {
		return err
	}

	if progress.Done {
		fmt.Fprintf(command.ErrOrStderr(), "query %s already completed\n", progress.QueryID)

		return nil
	}

	ctx := log.WithQuery(command.Context(), progress.CollectionID, progress.QueryID)
	logger = log.WithContext(ctx, logger)
	collection, err := seedCollection(progress, logger)

	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewPrometheus(reg, "")

	if err != nil {
		return err
	}

	if addr := viper.GetString(metricsAddrFlag); addr != "" {
		server := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()

		defer server.Close()
	}

	maxRetries := viper.GetInt(maxRetriesFlag)
	cfg := execution.Config{
		CollectionID:           progress.CollectionID,
		Query:                  execution.QuerySpec{Text: progress.Query},
		Top:                    progress.Top,
		PageSize:               viper.GetInt(pageSizeFlag),
		MaxDegreeOfParallelism: viper.GetInt(maxDegreeOfParallelismFlag),
		Ordering:               ordering,
		Topology:               routing.NewCache(routing.CacheConfig{Upstream: collection, Logger: logger}),
		Execute:                collection.Execute,
		RetryPolicyFactory: func() execution.RetryPolicy {
			return execution.NewBackoffRetryPolicy(maxRetries, execution.DefaultInitialBackoff, execution.DefaultMaxBackoff)
		},
		Logger:  logger,
		Metrics: collector,
	}

	query, err := execution.New(ctx, cfg, progress.Continuation)

	if err != nil {
		return err
	}

	return drain(ctx, command.OutOrStdout(), query, collection, store, progress, logger)
}

func drain(ctx context.Context, out io.Writer, query execution.Component, collection *fake.Collection, store *checkpoint.Store, progress checkpoint.Checkpoint, logger *zap.Logger) error {
	encoder := json.NewEncoder(out)
	maxPages := viper.GetInt(maxPagesFlag)
	splitEvery := viper.GetInt(splitEveryFlag)
	pages := 0

	for query.Next(ctx) {
		page := query.Value()
		pages++
		progress.Pages++
		progress.Documents += page.ItemCount()
		progress.Continuation = page.Continuation
		progress.Done = page.Continuation == ""
		progress.Topology = collection.Ranges()
		progress.UpdatedAt = time.Time{}

		if err := encoder.Encode(pageLine{
			QueryID:       progress.QueryID,
			Page:          progress.Pages,
			Range:         page.Range.ID,
			Items:         page.ItemCount(),
			RequestCharge: page.RequestCharge,
			Retries:       page.RetryCount,
			ActivityID:    page.ActivityID,
			Continuation:  page.Continuation,
			Documents:     page.Documents,
		}); err != nil {
			return fmt.Errorf("could not write page: %w", err)
		}

		if err := store.Save(progress); err != nil {
			return err
		}

		if splitEvery > 0 && pages%splitEvery == 0 {
			splitWidest(collection, logger)
		}

		if maxPages > 0 && pages >= maxPages && page.Continuation != "" {
			logger.Info("stopped after max pages", zap.Int("pages", pages))

			return nil
		}
	}

	if err := query.Error(); err != nil {
		return err
	}

	logger.Info("query completed", zap.Int("pages", progress.Pages), zap.Int("documents", progress.Documents))

	return nil
}

// loadOrCreate loads the checkpoint of the query being resumed
// or creates the checkpoint of a new query from the flags
func loadOrCreate(store *checkpoint.Store) (checkpoint.Checkpoint, error) {
	if queryID := viper.GetString(queryIDFlag); queryID != "" {
		progress, err := store.Load(queryID)

		if err == nil {
			return progress, nil
		}

		if !errors.Is(err, checkpoint.ErrNotFound) {
			return checkpoint.Checkpoint{}, err
		}
	}

	progress := checkpoint.Checkpoint{
		QueryID:      viper.GetString(queryIDFlag),
		CollectionID: viper.GetString(collectionFlag),
		Query:        viper.GetString(queryFlag),
		Topology:     fake.EvenRanges(viper.GetInt(partitionsFlag)),
	}

	if progress.QueryID == "" {
		progress.QueryID = checkpoint.NewQueryID()
	}

	if top := viper.GetInt(topFlag); top >= 0 {
		progress.Top = &top
	}

	return progress, nil
}

// seedCollection recreates the collection of a query with the
// topology it had when it was checkpointed
func seedCollection(progress checkpoint.Checkpoint, logger *zap.Logger) (*fake.Collection, error) {
	options := []fake.Option{fake.WithTopology(progress.Topology...), fake.WithLogger(logger)}

	if throttle := viper.GetFloat64(throttleFlag); throttle > 0 {
		options = append(options, fake.WithThrottle(rate.Limit(throttle), 1))
	}

	collection, err := fake.New(progress.CollectionID, options...)

	if err != nil {
		return nil, err
	}

	n := viper.GetInt(documentsFlag)

	for i := 0; i < n; i++ {
		document := json.RawMessage(fmt.Sprintf(`{"id":"doc-%06d","pk":"tenant-%d","value":%d}`, i, i%97, i))

		if err := collection.Insert(document); err != nil {
			return nil, err
		}
	}

	return collection, nil
}

// splitWidest splits the range that covers the most documents
// of the key space, the first one if there are several
func splitWidest(collection *fake.Collection, logger *zap.Logger) {
	ranges := collection.Ranges()
	widest := ranges[0]

	for _, rng := range ranges[1:] {
		if width(rng) > width(widest) {
			widest = rng
		}
	}

	if _, err := collection.Split(widest.ID); err != nil {
		logger.Warn("could not split partition", log.Range(widest), zap.Error(err))
	}
}

func width(rng routing.PartitionKeyRange) uint64 {
	lo, _ := fake.ParseKey(rng.MinInclusive)
	hi, _ := fake.ParseKey(rng.MaxExclusive)

	return hi - lo
}
