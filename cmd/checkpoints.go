package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrife/crossquery/checkpoint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewCheckpointsCommand creates the checkpoints command
// and its list and delete subcommands
func NewCheckpointsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "checkpoints",
		Short: "Manage query checkpoints",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every checkpoint as a JSON line",
		Args:  cobra.NoArgs,
		RunE:  listCheckpoints,
	}

	addCommonFlags(list.Flags())
	list.PreRun = bindFlagsFunc(list.Flags())

	remove := &cobra.Command{
		Use:   "delete QUERY_ID...",
		Short: "Delete the checkpoints of queries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  deleteCheckpoints,
	}

	addCommonFlags(remove.Flags())
	remove.PreRun = bindFlagsFunc(remove.Flags())

	command.AddCommand(list, remove)

	return command
}

type checkpointLine struct {
	QueryID      string `json:"queryId"`
	CollectionID string `json:"collectionId"`
	Pages        int    `json:"pages"`
	Documents    int    `json:"documents"`
	Ranges       int    `json:"ranges"`
	Done         bool   `json:"done"`
	UpdatedAt    string `json:"updatedAt"`
}

func openCheckpoints() (*checkpoint.Store, error) {
	logger, err := newLogger()

	if err != nil {
		return nil, err
	}

	return checkpoint.Open(checkpoint.Config{Path: viper.GetString(checkpointsFlag), Logger: logger})
}

func listCheckpoints(command *cobra.Command, _ []string) error {
	store, err := openCheckpoints()

	if err != nil {
		return err
	}

	defer store.Close()

	checkpoints, err := store.List()

	if err != nil {
		return err
	}

	encoder := json.NewEncoder(command.OutOrStdout())

	for _, c := range checkpoints {
		if err := encoder.Encode(checkpointLine{
			QueryID:      c.QueryID,
			CollectionID: c.CollectionID,
			Pages:        c.Pages,
			Documents:    c.Documents,
			Ranges:       len(c.Topology),
			Done:         c.Done,
			UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}

	return nil
}

func deleteCheckpoints(command *cobra.Command, args []string) error {
	store, err := openCheckpoints()

	if err != nil {
		return err
	}

	defer store.Close()

	for _, queryID := range args {
		if err := store.Delete(queryID); err != nil {
			return err
		}

		fmt.Fprintf(command.OutOrStdout(), "deleted %s\n", queryID)
	}

	return nil
}
