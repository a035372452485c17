package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/internal/config"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/store"
)

func newConflictsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "conflicts <pairId>",
		Short: "List conflicts raised for a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(cmd, args[0], all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "also include already-resolved conflicts")

	return cmd
}

func runConflicts(cmd *cobra.Command, pairIDStr string, all bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	pairID, err := ids.ParsePairID(pairIDStr)
	if err != nil {
		return fmt.Errorf("conflicts: %w", err)
	}

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("conflicts: opening store: %w", err)
	}
	defer st.Close()

	conflicts, err := st.ListConflicts(ctx, pairID, !all)
	if err != nil {
		return fmt.Errorf("conflicts: %w", err)
	}

	if len(conflicts) == 0 {
		fmt.Println("No conflicts.")
		return nil
	}

	for _, c := range conflicts {
		status := "unresolved"
		if !c.Unresolved() {
			status = fmt.Sprintf("resolved (%s)", c.AppliedResolution)
		}

		fmt.Printf("%-40s  auto=%-12s  %-24s  detected %s\n",
			c.Path, c.AutoResolution, status, humanize.Time(time.UnixMilli(c.DetectedAt)))
	}

	return nil
}
