package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/butterflysync/bdp/internal/folder"
)

// watchDebounce coalesces a burst of filesystem events into a single
// re-sync, matching spec.md §4.3's "scan is always the source of truth" —
// the watcher is only ever a hint that a scan should run sooner.
const watchDebounce = 2 * time.Second

func newWatchCmd() *cobra.Command {
	var peerFlags []string

	cmd := &cobra.Command{
		Use:   "watch <pairId>...",
		Short: "Watch one or more pairs' local folders and re-sync on change",
		Long: "Runs one fsnotify watch + debounced re-sync loop per pair concurrently, " +
			"driven via an errgroup. A failed sync on one pair is logged and does not stop the others; " +
			"a watcher setup failure on any pair stops all of them.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args, peerFlags)
		},
	}

	cmd.Flags().StringArrayVar(&peerFlags, "peer", nil, "pairId=ws://host:port/bdp, repeatable (one per watched pair)")

	return cmd
}

func runWatch(cmd *cobra.Command, pairIDs, peerFlags []string) error {
	cc := mustCLIContext(cmd.Context())

	peers, err := parsePeerFlags(peerFlags)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	for _, pairIDStr := range pairIDs {
		peerAddr, ok := peers[pairIDStr]
		if !ok {
			return fmt.Errorf("watch: no --peer given for pair %s", pairIDStr)
		}

		g.Go(func() error {
			return watchPair(ctx, cc, pairIDStr, peerAddr)
		})
	}

	return g.Wait()
}

func parsePeerFlags(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))

	for _, f := range flags {
		pairID, addr, ok := strings.Cut(f, "=")
		if !ok || pairID == "" || addr == "" {
			return nil, fmt.Errorf("invalid --peer %q, expected pairId=ws://host:port/bdp", f)
		}

		out[pairID] = addr
	}

	return out, nil
}

func watchPair(ctx context.Context, cc *CLIContext, pairIDStr, peerAddr string) error {
	liveRoot := pairLiveRoot(cc.Cfg.DataDir, pairIDStr)
	if err := os.MkdirAll(liveRoot, 0o755); err != nil {
		return fmt.Errorf("watch %s: creating live folder: %w", pairIDStr, err)
	}

	w, err := folder.NewWatcher(liveRoot, cc.Logger)
	if err != nil {
		return fmt.Errorf("watch %s: %w", pairIDStr, err)
	}
	defer w.Close()

	go w.Run(ctx)

	if _, err := syncOnce(ctx, cc, pairIDStr, peerAddr, false); err != nil {
		cc.Logger.Warn("watch: initial sync failed", "pair", pairIDStr, "error", err)
	}

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.Events():
			timer.Reset(watchDebounce)

		case <-timer.C:
			stats, err := syncOnce(ctx, cc, pairIDStr, peerAddr, false)
			if err != nil {
				cc.Logger.Warn("watch: sync failed", "pair", pairIDStr, "error", err)
				continue
			}

			printSyncStats(pairIDStr, stats)
		}
	}
}
