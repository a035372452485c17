package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/internal/config"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/store"
)

func newPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Create and inspect sync pairs",
	}

	cmd.AddCommand(newPairCreateCmd())
	cmd.AddCommand(newPairJoinCmd())
	cmd.AddCommand(newPairLsCmd())

	return cmd
}

func newPairCreateCmd() *cobra.Command {
	var direction, strategy string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new sync pair with this device as its sole member",
		Long:  "Creates a pair and prints its PairID. Share it with the peer so they can run 'pair join'.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPairCreate(cmd, direction, strategy)
		},
	}

	cmd.Flags().StringVar(&direction, "direction", string(model.DirectionBidirectional), "bidirectional|upload-only|download-only")
	cmd.Flags().StringVar(&strategy, "conflict-strategy", string(model.StrategyLastWriteWins), "last-write-wins|local-wins|remote-wins|manual")

	return cmd
}

func runPairCreate(cmd *cobra.Command, direction, strategy string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	deviceID, err := localDeviceID(cc)
	if err != nil {
		return err
	}

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("pair create: opening store: %w", err)
	}
	defer st.Close()

	pair := model.SyncPair{
		PairID:           ids.NewPairID(),
		Devices:          []ids.DeviceID{deviceID},
		Direction:        model.Direction(direction),
		ConflictStrategy: model.ConflictStrategy(strategy),
		MaxFileSizeBytes: model.DefaultMaxFileSizeBytes,
	}

	if err := st.PutPair(ctx, pair); err != nil {
		return fmt.Errorf("pair create: %w", err)
	}

	fmt.Printf("Pair created: %s\n", pair.PairID.String())
	fmt.Println("Share this PairID with the peer device, then run 'bdpsync pair join' there.")

	return nil
}

func newPairJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <pairId> <peerDeviceId>",
		Short: "Record a pair created on another device, pairing it with this one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairJoin(cmd, args[0], args[1])
		},
	}
}

func runPairJoin(cmd *cobra.Command, pairIDStr, peerDeviceIDStr string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	deviceID, err := localDeviceID(cc)
	if err != nil {
		return err
	}

	pairID, err := ids.ParsePairID(pairIDStr)
	if err != nil {
		return fmt.Errorf("pair join: %w", err)
	}

	peerDeviceID, err := ids.ParseDeviceID(peerDeviceIDStr)
	if err != nil {
		return fmt.Errorf("pair join: %w", err)
	}

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("pair join: opening store: %w", err)
	}
	defer st.Close()

	pair := model.SyncPair{
		PairID:           pairID,
		Devices:          []ids.DeviceID{deviceID, peerDeviceID},
		Direction:        model.DirectionBidirectional,
		ConflictStrategy: model.StrategyLastWriteWins,
		MaxFileSizeBytes: model.DefaultMaxFileSizeBytes,
	}

	if err := st.PutPair(ctx, pair); err != nil {
		return fmt.Errorf("pair join: %w", err)
	}

	fmt.Printf("Joined pair %s with peer %s\n", pairID.String(), peerDeviceID.String())

	return nil
}

func newPairLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List configured sync pairs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPairLs(cmd)
		},
	}
}

func runPairLs(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("pair ls: opening store: %w", err)
	}
	defer st.Close()

	pairs, err := st.ListPairs(cmd.Context())
	if err != nil {
		return fmt.Errorf("pair ls: %w", err)
	}

	if len(pairs) == 0 {
		fmt.Println("No pairs configured. Run 'bdpsync pair create' to start one.")
		return nil
	}

	for _, p := range pairs {
		fmt.Printf("%s  %-12s  %-16s  devices=%d\n", p.PairID.String(), p.Direction, p.ConflictStrategy, len(p.Devices))
	}

	return nil
}

// localDeviceID returns this install's device identity, recorded by
// 'bdpsync init' in the config file.
func localDeviceID(cc *CLIContext) (ids.DeviceID, error) {
	if cc.Cfg.DeviceID == "" {
		return ids.DeviceID{}, fmt.Errorf("no device identity found, run 'bdpsync init' first")
	}

	return ids.ParseDeviceID(cc.Cfg.DeviceID)
}
