package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/config"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [pairId]",
		Short: "Show pair sync status: last sync time, Merkle root, history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runStatusAll(cmd)
			}

			return runStatusOne(cmd, args[0])
		},
	}
}

func runStatusAll(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("status: opening store: %w", err)
	}
	defer st.Close()

	pairs, err := st.ListPairs(cmd.Context())
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if len(pairs) == 0 {
		fmt.Println("No pairs configured. Run 'bdpsync pair create' to start one.")
		return nil
	}

	for _, p := range pairs {
		last := "never"
		if p.LastSyncedAt > 0 {
			last = humanize.Time(time.UnixMilli(p.LastSyncedAt))
		}

		fmt.Printf("%s  last synced %s\n", p.PairID.String(), last)
	}

	return nil
}

func runStatusOne(cmd *cobra.Command, pairIDStr string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	pairID, err := ids.ParsePairID(pairIDStr)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("status: opening store: %w", err)
	}
	defer st.Close()

	pair, err := st.GetPair(ctx, pairID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	fmt.Printf("Pair:              %s\n", pair.PairID.String())
	fmt.Printf("Direction:         %s\n", pair.Direction)
	fmt.Printf("Conflict strategy: %s\n", pair.ConflictStrategy)
	fmt.Printf("Max file size:     %s\n", humanize.Bytes(uint64(pair.MaxFileSizeBytes)))

	if pair.LastSyncedAt > 0 {
		fmt.Printf("Last synced:       %s\n", humanize.Time(time.UnixMilli(pair.LastSyncedAt)))
	} else {
		fmt.Println("Last synced:       never")
	}

	root, err := st.GetIndexRoot(ctx, pairID)
	switch {
	case err == nil:
		fmt.Printf("Merkle root:       %s (%s entries)\n", root.RootHash, humanize.Comma(int64(root.EntryCount)))
	case errors.Is(err, bdperr.ErrNotFound):
		fmt.Println("Merkle root:       (not yet computed — run 'bdpsync sync' first)")
	default:
		return fmt.Errorf("status: %w", err)
	}

	unresolved, err := st.ListConflicts(ctx, pairID, true)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	fmt.Printf("Unresolved conflicts: %d\n", len(unresolved))

	history, err := st.ListHistory(ctx, pairID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if len(history) == 0 {
		return nil
	}

	fmt.Println("\nRecent syncs:")

	limit := len(history)
	if limit > 5 {
		limit = 5
	}

	for _, h := range history[:limit] {
		fmt.Printf("  %s  %-11s  +%d -%d  %d conflicts\n",
			humanize.Time(time.UnixMilli(h.TS)), h.SyncType,
			h.Stats.FilesDownloaded, h.Stats.FilesUploaded, h.Stats.ConflictsRaised)
	}

	return nil
}
