package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/planner"
	"github.com/butterflysync/bdp/internal/wire"
)

// sendHello sends our HELLO frame carrying the pair's current
// {merkleRoot, maxSeq, indexId} summary (spec.md §4.8 GREETING).
func (s *Session) sendHello(ctx context.Context) error {
	state := wire.HelloPairState{PairID: s.pairID.String()}

	root, err := s.store.GetIndexRoot(ctx, s.pairID)
	switch {
	case err == nil:
		state.MerkleRoot = root.RootHash
		state.MaxSeq = root.MaxSeq
		state.IndexID = root.IndexID
	case errors.Is(err, bdperr.ErrNotFound):
		// No index computed yet — an empty pair greets with zero values,
		// which forces a full_sync on first contact.
	default:
		return err
	}

	payload := wire.HelloPayload{
		DeviceName:   s.deviceName,
		Capabilities: []string{"bdp/1"},
		Pairs:        []wire.HelloPairState{state},
	}

	return s.send(ctx, wire.FrameHello, payload)
}

// handleHello implements the GREETING decision table from spec.md §4.8.
func (s *Session) handleHello(ctx context.Context, env wire.Envelope) (bool, error) {
	var p wire.HelloPayload
	if err := decodePayload(env, &p); err != nil {
		return false, err
	}

	peerDeviceID, err := ids.ParseDeviceID(env.FromDeviceID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", bdperr.ErrDecode, err)
	}

	s.peerDeviceID = peerDeviceID

	var peerState *wire.HelloPairState

	for i := range p.Pairs {
		if p.Pairs[i].PairID == s.pairID.String() {
			peerState = &p.Pairs[i]
			break
		}
	}

	if peerState == nil {
		return false, bdperr.ErrPairNotFound
	}

	s.knownRemoteRoot = peerState.MerkleRoot

	var ourRootHash, ourIndexID string

	ourRoot, err := s.store.GetIndexRoot(ctx, s.pairID)
	switch {
	case err == nil:
		ourRootHash, ourIndexID = ourRoot.RootHash, ourRoot.IndexID
	case errors.Is(err, bdperr.ErrNotFound):
	default:
		return false, err
	}

	switch {
	case ourRootHash != "" && peerState.MerkleRoot != "" && ourRootHash == peerState.MerkleRoot:
		s.syncType = model.SyncTypeNoChange

		if err := s.finalize(ctx); err != nil {
			return false, err
		}

		return s.checkDone(), nil

	case ourIndexID != "" && peerState.IndexID != "" && ourIndexID == peerState.IndexID:
		s.setState(StateDeltaSync)
		s.syncType = model.SyncTypeDelta

		return false, s.requestIndex(ctx, peerState.MaxSeq)

	default:
		s.setState(StateFullSync)
		s.syncType = model.SyncTypeFull

		return false, s.requestIndex(ctx, 0)
	}
}

func (s *Session) requestIndex(ctx context.Context, sinceSeq uint64) error {
	s.remoteEntries = s.remoteEntries[:0]
	return s.send(ctx, wire.FrameIndexRequest, wire.IndexRequestPayload{SinceSeq: sinceSeq})
}

// handleIndexRequest streams our index in batches of at most
// wire.MaxIndexResponseBatch, the INDEX EXCHANGE responder side of
// spec.md §4.8.
func (s *Session) handleIndexRequest(ctx context.Context, env wire.Envelope) error {
	var p wire.IndexRequestPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	entries, err := s.store.EntriesSince(ctx, s.pairID, p.SinceSeq)
	if err != nil {
		return err
	}

	maxSeq, err := s.store.MaxSeq(ctx, s.pairID)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return s.send(ctx, wire.FrameIndexResponse, wire.IndexResponsePayload{
			IsComplete: true, SenderMaxSeq: maxSeq,
		})
	}

	for start := 0; start < len(entries); start += wire.MaxIndexResponseBatch {
		end := start + wire.MaxIndexResponseBatch
		if end > len(entries) {
			end = len(entries)
		}

		batch := wire.IndexResponsePayload{
			Entries:      entries[start:end],
			IsComplete:   end == len(entries),
			TotalEntries: len(entries),
			SenderMaxSeq: maxSeq,
		}

		if err := s.send(ctx, wire.FrameIndexResponse, batch); err != nil {
			return err
		}
	}

	return nil
}

// handleIndexResponse accumulates batches until isComplete, then drives
// planning (spec.md §4.8 INDEX EXCHANGE steps 1-4).
func (s *Session) handleIndexResponse(ctx context.Context, env wire.Envelope) error {
	var p wire.IndexResponsePayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	s.remoteEntries = append(s.remoteEntries, p.Entries...)

	if !p.IsComplete {
		return nil
	}

	s.remoteMaxSeq = p.SenderMaxSeq

	return s.processRemoteIndex(ctx)
}

// processRemoteIndex runs the planner over the accumulated remote
// entries, persists and announces conflicts, and either finalizes
// immediately (empty plan) or enters transferring.
//
// The CRDT merge spec.md §4.8 describes as a separate step is folded
// into planning + transfer here: a remote-dominant entry is only ever
// safely adoptable once its content has actually landed, which is
// exactly what the download path already does at chunk-receipt finalize
// (session/transfer.go). Entries the planner calls unchanged need no
// merge; entries where local dominates are already correct locally.
func (s *Session) processRemoteIndex(ctx context.Context) error {
	local, err := s.store.AllEntries(ctx, s.pairID)
	if err != nil {
		return err
	}

	plan := planner.PlanSync(local, s.remoteEntries, s.pair)

	for _, c := range plan.Conflicts {
		c.DetectedAt = s.now().UnixMilli()

		if err := s.store.PutConflict(ctx, c); err != nil {
			return err
		}

		s.stats.ConflictsRaised++
		s.pendingConflicts[c.Path] = c

		if err := s.send(ctx, wire.FrameConflict, wire.ConflictPayload{
			Path: c.Path, LocalEntry: c.Local, RemoteEntry: c.Remote, AutoResolution: c.AutoResolution,
		}); err != nil {
			return err
		}

		if s.pair.ConflictStrategy != model.StrategyManual && c.AutoResolution != model.ResolutionNone {
			if err := s.send(ctx, wire.FrameConflictResolution, wire.ConflictResolutionPayload{
				Path: c.Path, Resolution: c.AutoResolution,
			}); err != nil {
				return err
			}
		}
	}

	if len(plan.Upload) == 0 && len(plan.Download) == 0 && len(s.pendingConflicts) == 0 {
		return s.finalize(ctx)
	}

	s.setState(StateTransferring)
	s.uploadQueue = append(s.uploadQueue, plan.Upload...)
	s.downloadQueue = append(s.downloadQueue, plan.Download...)

	if len(s.pendingConflicts) > 0 {
		s.setState(StateResolvingConflict)
	}

	s.drainQueues(ctx)

	return nil
}

// finalize implements spec.md §4.8 FINALIZE: record history, send DONE,
// and mark our half of the handshake complete. Idempotent.
func (s *Session) finalize(ctx context.Context) error {
	if s.sentDone {
		return nil
	}

	s.setState(StateFinalizing)

	root, err := s.tree.ComputeRoot(ctx, s.pairID, s.deviceID)
	if err != nil {
		return err
	}

	hist := model.SyncHistory{
		ID:            newHistoryID(),
		PairID:        s.pairID,
		TS:            s.now().UnixMilli(),
		PeerDeviceID:  s.peerDeviceID,
		SyncType:      s.syncType,
		Stats:         s.stats,
		NewMerkleRoot: root.RootHash,
	}

	if err := s.store.AppendHistory(ctx, hist); err != nil {
		return err
	}

	if err := s.send(ctx, wire.FrameDone, wire.DonePayload{
		Stats: s.stats, NewMerkleRoot: root.RootHash, NewMaxSeq: root.MaxSeq,
	}); err != nil {
		return err
	}

	s.sentDone = true

	s.logger.Info("sync finalized",
		slog.String("pairId", s.pairID.String()),
		slog.String("syncType", string(s.syncType)),
		slog.Int("uploaded", s.stats.FilesUploaded),
		slog.Int("downloaded", s.stats.FilesDownloaded),
	)

	return nil
}

// handleDone applies the peer's DONE frame: updates our record of its
// converged root and the pair's lastSyncedAt (spec.md §4.8 FINALIZE).
func (s *Session) handleDone(ctx context.Context, env wire.Envelope) (bool, error) {
	var p wire.DonePayload
	if err := decodePayload(env, &p); err != nil {
		return false, err
	}

	s.knownRemoteRoot = p.NewMerkleRoot
	s.pair.LastSyncedAt = s.now().UnixMilli()

	if err := s.store.PutPair(ctx, s.pair); err != nil {
		return false, err
	}

	s.receivedDone = true

	if !s.sentDone {
		// Peer converged before we decided there was nothing left to
		// transfer on our side too (e.g. a download-only pair). Finalize
		// now so both sides agree on completion.
		if err := s.finalize(ctx); err != nil {
			return false, err
		}
	}

	return s.checkDone(), nil
}

// checkDone reports whether both halves of the handshake (our DONE sent,
// peer's DONE received) have completed, transitioning to idle the moment
// they have (spec.md §4.8 "finalizing -> idle").
func (s *Session) checkDone() bool {
	done := s.sentDone && s.receivedDone

	if done {
		s.setState(StateIdle)
	}

	return done
}

func newHistoryID() string {
	return ids.NewPairID().String()
}
