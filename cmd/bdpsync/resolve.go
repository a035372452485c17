package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/internal/cas"
	"github.com/butterflysync/bdp/internal/config"
	"github.com/butterflysync/bdp/internal/folder"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/session"
	"github.com/butterflysync/bdp/internal/store"
)

func newResolveCmd() *cobra.Command {
	var peerAddr string
	var serve bool

	cmd := &cobra.Command{
		Use:   "resolve <pairId> <path> <keep-local|keep-remote>",
		Short: "Manually resolve a conflict and notify the peer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], args[1], args[2], peerAddr, serve)
		},
	}

	cmd.Flags().StringVar(&peerAddr, "peer", "", "websocket URL of the peer to dial (ws://host:port/bdp)")
	cmd.Flags().BoolVar(&serve, "serve", false, "listen for one inbound peer connection instead of dialing")

	return cmd
}

func runResolve(cmd *cobra.Command, pairIDStr, path, resolutionStr, peerAddr string, serve bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	resolution, err := parseResolution(resolutionStr)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	pairID, err := ids.ParsePairID(pairIDStr)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	deviceID, err := localDeviceID(cc)
	if err != nil {
		return err
	}

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("resolve: opening store: %w", err)
	}
	defer st.Close()

	pair, err := st.GetPair(ctx, pairID)
	if err != nil {
		return fmt.Errorf("resolve: loading pair %s: %w", pairIDStr, err)
	}

	blobs, err := cas.New(config.CASRoot(cc.Cfg.DataDir), st)
	if err != nil {
		return fmt.Errorf("resolve: opening cas: %w", err)
	}

	liveRoot := pairLiveRoot(cc.Cfg.DataDir, pairIDStr)
	if err := os.MkdirAll(liveRoot, 0o755); err != nil {
		return fmt.Errorf("resolve: creating live folder: %w", err)
	}

	source := folder.NewLocalSource(liveRoot)
	sink := folder.NewLocalSink(vaultRoot(cc.Cfg.DataDir))

	conn, err := connectTransport(ctx, cc.Cfg.Listen, peerAddr, serve)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	defer conn.Close()

	sess, err := session.New(session.Config{
		PairID:     pairID,
		DeviceID:   deviceID,
		DeviceName: cc.Cfg.DeviceName,
		Transport:  conn,
		Store:      st,
		CAS:        blobs,
		Source:     source,
		Sink:       sink,
		Pair:       *pair,
		Logger:     cc.Logger,
	})
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	if err := sess.ResolveConflict(ctx, path, resolution); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	fmt.Printf("%s: %s resolved as %s\n", pairIDStr, path, resolution)

	return nil
}

func parseResolution(s string) (model.Resolution, error) {
	switch model.Resolution(s) {
	case model.ResolutionKeepLocal:
		return model.ResolutionKeepLocal, nil
	case model.ResolutionKeepRemote:
		return model.ResolutionKeepRemote, nil
	default:
		return "", fmt.Errorf("invalid resolution %q, expected keep-local or keep-remote", s)
	}
}
