package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	checkpointsFlag            = "checkpoints"
	logLevelFlag               = "log-level"
	queryIDFlag                = "query-id"
	collectionFlag             = "collection"
	queryFlag                  = "query"
	documentsFlag              = "documents"
	partitionsFlag             = "partitions"
	pageSizeFlag               = "page-size"
	maxDegreeOfParallelismFlag = "max-degree-of-parallelism"
	orderingFlag               = "ordering"
	topFlag                    = "top"
	maxPagesFlag               = "max-pages"
	splitEveryFlag             = "split-every"
	throttleFlag               = "throttle"
	maxRetriesFlag             = "max-retries"
	metricsAddrFlag            = "metrics-addr"
)

// mustBindPFlag binds a viper key to a flag and
// panics if the binding fails
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// bindFlagsFunc binds every flag of a command to the viper
// key of the same name so flags override environment
// variables and the config file
func bindFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, _ []string) {
		flags.VisitAll(func(flag *pflag.Flag) {
			mustBindPFlag(flag.Name, flag)
		})
	}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String(checkpointsFlag, "xpq.db", "path of the checkpoint store")
	flags.String(logLevelFlag, "info", "log level (debug, info, warn or error)")
}

// newLogger creates a JSON logger writing to stderr
func newLogger() (*zap.Logger, error) {
	atom := zap.NewAtomicLevel()

	if err := atom.UnmarshalText([]byte(viper.GetString(logLevelFlag))); err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", logLevelFlag, err)
	}

	return zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(os.Stderr),
		atom,
	)), nil
}
