package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/internal/cas"
	"github.com/butterflysync/bdp/internal/config"
	"github.com/butterflysync/bdp/internal/folder"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/index"
	"github.com/butterflysync/bdp/internal/localscan"
	"github.com/butterflysync/bdp/internal/merkle"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/session"
	"github.com/butterflysync/bdp/internal/store"
	"github.com/butterflysync/bdp/internal/transport"
)

func newSyncCmd() *cobra.Command {
	var peerAddr string
	var serve bool

	cmd := &cobra.Command{
		Use:   "sync <pairId>",
		Short: "Run one sync session against a peer over a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			stats, err := syncOnce(cmd.Context(), cc, args[0], peerAddr, serve)
			if err != nil {
				return err
			}

			printSyncStats(args[0], stats)

			return nil
		},
	}

	cmd.Flags().StringVar(&peerAddr, "peer", "", "websocket URL of the peer to dial (ws://host:port/bdp)")
	cmd.Flags().BoolVar(&serve, "serve", false, "listen for one inbound peer connection instead of dialing")

	return cmd
}

// syncOnce refreshes the local index for pairIDStr, negotiates a transport
// connection to its peer, and runs one session to completion. Shared by
// the one-shot `sync` command and `watch`'s debounced re-sync loop.
func syncOnce(ctx context.Context, cc *CLIContext, pairIDStr, peerAddr string, serve bool) (model.TransferStats, error) {
	pairID, err := ids.ParsePairID(pairIDStr)
	if err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: %w", err)
	}

	deviceID, err := localDeviceID(cc)
	if err != nil {
		return model.TransferStats{}, err
	}

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: opening store: %w", err)
	}
	defer st.Close()

	pair, err := st.GetPair(ctx, pairID)
	if err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: loading pair %s: %w", pairIDStr, err)
	}

	blobs, err := cas.New(config.CASRoot(cc.Cfg.DataDir), st)
	if err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: opening cas: %w", err)
	}

	liveRoot := pairLiveRoot(cc.Cfg.DataDir, pairIDStr)
	if err := os.MkdirAll(liveRoot, 0o755); err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: creating live folder: %w", err)
	}

	source := folder.NewLocalSource(liveRoot)
	sink := folder.NewLocalSink(vaultRoot(cc.Cfg.DataDir))

	idx := index.New(st)
	tree := merkle.New(st)

	if _, err := localscan.Refresh(ctx, idx, tree, blobs, source, pairID, deviceID); err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: refreshing local index: %w", err)
	}

	conn, err := connectTransport(ctx, cc.Cfg.Listen, peerAddr, serve)
	if err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: %w", err)
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
		return model.TransferStats{}, fmt.Errorf("sync: %w", err)
	}

	if err := sess.Run(ctx); err != nil {
		return model.TransferStats{}, fmt.Errorf("sync: %w", err)
	}

	return sess.Stats(), nil
}

func pairLiveRoot(dataDir, pairIDStr string) string {
	return filepath.Join(dataDir, "pairs", pairIDStr, "live")
}

// vaultRoot is the single shared materialized-content root; folder.LocalSink
// namespaces writes under it per pair (Root/<pairID>/<path>).
func vaultRoot(dataDir string) string {
	return filepath.Join(dataDir, "vault")
}

func printSyncStats(pairIDStr string, stats model.TransferStats) {
	fmt.Printf("%s: %d uploaded (%s), %d downloaded (%s), %d conflicts, %s saved by dedup\n",
		pairIDStr,
		stats.FilesUploaded, humanize.Bytes(uint64(stats.BytesUploaded)),
		stats.FilesDownloaded, humanize.Bytes(uint64(stats.BytesDownloaded)),
		stats.ConflictsRaised,
		humanize.Bytes(uint64(stats.BytesSavedDedup)),
	)
}

// connectTransport dials a peer over websocket, or listens for a single
// inbound connection, depending on which side of the pair is driving this
// invocation. Exactly one of peerAddr/serve should be set.
func connectTransport(ctx context.Context, listen, peerAddr string, serve bool) (transport.Transport, error) {
	switch {
	case peerAddr != "":
		return transport.DialWebsocket(ctx, peerAddr)
	case serve:
		return acceptOnce(ctx, listen)
	default:
		return nil, fmt.Errorf("either --peer or --serve is required")
	}
}

// acceptOnce starts a throwaway HTTP server, accepts exactly one inbound
// websocket upgrade on /bdp, and shuts the listener back down — a sync
// session is point-to-point and short-lived, so there is no long-running
// server process to manage.
func acceptOnce(ctx context.Context, listen string) (transport.Transport, error) {
	if listen == "" {
		listen = config.DefaultListen
	}

	connCh := make(chan transport.Transport, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/bdp", func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.AcceptWebsocket(w, r)
		if err != nil {
			errCh <- err
			return
		}

		connCh <- conn
	})

	srv := &http.Server{Addr: listen, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer srv.Close()

	select {
	case conn := <-connCh:
		return conn, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("timed out waiting for an inbound connection on %s", listen)
	}
}
