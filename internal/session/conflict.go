package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/wire"
)

// handleConflict registers a conflict the peer detected on its own
// planning pass (spec.md §4.8 "Conflicts during transfer").
func (s *Session) handleConflict(ctx context.Context, env wire.Envelope) error {
	var p wire.ConflictPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	c := model.Conflict{
		PairID: s.pairID, Path: p.Path, Local: p.LocalEntry, Remote: p.RemoteEntry,
		AutoResolution: p.AutoResolution, DetectedAt: s.now().UnixMilli(),
	}

	if err := s.store.PutConflict(ctx, c); err != nil {
		return err
	}

	if _, already := s.pendingConflicts[c.Path]; !already {
		s.stats.ConflictsRaised++
	}

	s.pendingConflicts[c.Path] = c

	if s.state == StateTransferring {
		s.setState(StateResolvingConflict)
	}

	return nil
}

// handleConflictResolution applies an incoming CONFLICT_RESOLUTION frame
// (spec.md §4.8 "Receiving CONFLICT_RESOLUTION: apply locally").
//
// The frame's Resolution field is phrased from the sender's point of
// view ("keep-remote" meaning "adopt the side I call remote"), which
// inverts once it crosses the wire: what the sender calls remote is this
// session's own local copy. Rather than reinterpret the label under a
// flipped frame of reference, this applies OUR OWN previously computed
// AutoResolution for the same path — both peers run the identical
// deterministic AutoResolve rule (spec.md §4.6) over the same two
// entries, so the two sides always agree regardless of who sent the
// frame first. The incoming frame is only needed as the trigger.
func (s *Session) handleConflictResolution(ctx context.Context, env wire.Envelope) error {
	var p wire.ConflictResolutionPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	c, pending := s.pendingConflicts[p.Path]
	if !pending {
		s.logger.Debug("conflict resolution for unknown/already-resolved path", slog.String("path", p.Path))
		return nil
	}

	return s.applyResolution(ctx, c, c.AutoResolution)
}

// ResolveConflict applies a manual resolution chosen by the operator
// (spec.md §4.6 "manual" strategy), notifies the peer, and resumes
// draining. Intended for the CLI's `resolve` command.
func (s *Session) ResolveConflict(ctx context.Context, path string, resolution model.Resolution) error {
	c, pending := s.pendingConflicts[path]
	if !pending {
		stored, err := s.store.GetConflict(ctx, s.pairID, path)
		if err != nil {
			return err
		}

		c = *stored
	}

	if err := s.applyResolution(ctx, c, resolution); err != nil {
		return err
	}

	return s.send(ctx, wire.FrameConflictResolution, wire.ConflictResolutionPayload{Path: path, Resolution: resolution})
}

// applyResolution materializes resolution for conflict c and marks it
// resolved.
func (s *Session) applyResolution(ctx context.Context, c model.Conflict, resolution model.Resolution) error {
	switch resolution {
	case model.ResolutionKeepRemote:
		if c.Remote == nil {
			return fmt.Errorf("session: conflict %s has no remote entry to keep", c.Path)
		}

		if err := s.finalizeDownload(ctx, *c.Remote, nil); err != nil {
			return err
		}

	case model.ResolutionKeepLocal:
		// No-op: the local copy is already correct; just bump our clock
		// so the next exchange reflects that this path was deliberately
		// kept, not silently unchanged.
		if c.Local != nil {
			e := c.Local.Clone()
			e.VectorClock = e.VectorClock.Increment(s.deviceID.String())

			stamped, err := s.idx.PutEntry(ctx, e)
			if err != nil {
				return err
			}

			if err := s.tree.Update(ctx, s.pairID, stamped); err != nil {
				return err
			}
		}

	case model.ResolutionNone:
		return fmt.Errorf("%w: conflict %s has no resolution to apply", bdperr.ErrDecode, c.Path)
	}

	now := s.now().UnixMilli()
	c.ResolvedAt = &now
	c.AppliedResolution = resolution

	if err := s.store.PutConflict(ctx, c); err != nil {
		return err
	}

	delete(s.pendingConflicts, c.Path)

	if len(s.pendingConflicts) == 0 && s.state == StateResolvingConflict {
		s.setState(StateTransferring)
	}

	return s.maybeFinalize(ctx)
}
