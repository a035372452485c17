package session

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/chunk"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/transport"
	"github.com/butterflysync/bdp/internal/wire"
)

// downloadTransfer tracks one in-flight CHUNK_REQUEST this session issued
// (spec.md §4.8 "TRANSFER — download side").
type downloadTransfer struct {
	transferID string
	entry      model.FileEntry
	needChunks []string
	received   map[string][]byte
}

// drainQueues pops work off the upload and download FIFOs while
// concurrency slots remain, interleaving one upload then one download per
// pass (spec.md §4.8 "Concurrency"). Upload slots are reserved in advance
// of the peer's CHUNK_REQUEST arriving; download slots issue the request
// immediately.
func (s *Session) drainQueues(ctx context.Context) error {
	for s.activeTransfers < MaxConcurrentTransfers {
		progressed := false

		if s.activeTransfers < MaxConcurrentTransfers && len(s.uploadQueue) > 0 {
			e := s.uploadQueue[0]
			s.uploadQueue = s.uploadQueue[1:]
			s.activeTransfers++

			if s.pendingUploads == nil {
				s.pendingUploads = make(map[string]model.FileEntry)
			}

			s.pendingUploads[e.Path] = e
			progressed = true
		}

		if s.activeTransfers < MaxConcurrentTransfers && len(s.downloadQueue) > 0 {
			e := s.downloadQueue[0]
			s.downloadQueue = s.downloadQueue[1:]
			s.activeTransfers++

			if err := s.startDownload(ctx, e); err != nil {
				return err
			}

			progressed = true
		}

		if !progressed {
			break
		}
	}

	return s.maybeFinalize(ctx)
}

// maybeFinalize finalizes once every queue, in-flight transfer, and
// pending conflict has drained.
func (s *Session) maybeFinalize(ctx context.Context) error {
	if len(s.uploadQueue) > 0 || len(s.downloadQueue) > 0 || len(s.pendingUploads) > 0 ||
		len(s.downloads) > 0 || len(s.pendingConflicts) > 0 {
		return nil
	}

	if s.state != StateTransferring && s.state != StateResolvingConflict {
		return nil
	}

	return s.finalize(ctx)
}

// splitChunks partitions e's (deduplicated) chunk hash list into those
// already present in the local CAS and those that must be requested.
func (s *Session) splitChunks(hashes []string) (need, have []string) {
	seen := make(map[string]bool, len(hashes))

	for _, h := range hashes {
		if seen[h] {
			continue
		}

		seen[h] = true

		if s.blobs.Has(h) {
			have = append(have, h)
		} else {
			need = append(need, h)
		}
	}

	return need, have
}

// startDownload issues a CHUNK_REQUEST for a planned download, or
// finalizes immediately if every chunk is already in the local CAS
// (spec.md §4.8 "TRANSFER — download side").
func (s *Session) startDownload(ctx context.Context, e model.FileEntry) error {
	need, have := s.splitChunks(e.ChunkHashes)

	if len(need) == 0 {
		return s.finalizeDownload(ctx, e, nil)
	}

	transferID := ids.NewDeviceID().String()

	dt := &downloadTransfer{transferID: transferID, entry: e, needChunks: need, received: make(map[string][]byte)}
	s.downloads[transferID] = dt

	return s.send(ctx, wire.FrameChunkRequest, wire.ChunkRequestPayload{
		TransferID: transferID, Path: e.Path, HaveChunks: have, NeedChunks: need, TotalChunks: len(e.ChunkHashes),
	})
}

// handleChunkRequest is the passive upload side (spec.md §4.8 "TRANSFER —
// upload side"): stream the requested chunks straight from CAS.
func (s *Session) handleChunkRequest(ctx context.Context, env wire.Envelope) error {
	var p wire.ChunkRequestPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	if _, err := s.store.GetEntry(ctx, s.pairID, p.Path); err != nil {
		return s.send(ctx, wire.FrameAck, wire.AckPayload{
			TransferID: p.TransferID, Path: p.Path, Status: wire.AckWriteError, ErrorMessage: err.Error(),
		})
	}

	for i, hash := range p.NeedChunks {
		data, err := s.blobs.Get(hash)
		if err != nil {
			return s.send(ctx, wire.FrameAck, wire.AckPayload{
				TransferID: p.TransferID, Path: p.Path, Status: wire.AckWriteError, ErrorMessage: err.Error(),
			})
		}

		header := wire.ChunkHeader{
			TransferID: p.TransferID, ChunkHash: hash, ChunkIndex: i,
			IsLast: i == len(p.NeedChunks)-1, OriginalSize: int64(len(data)),
		}

		frame, err := wire.EncodeChunk(header, data)
		if err != nil {
			return err
		}

		if err := s.conn.Send(ctx, transport.Message{Binary: frame}); err != nil {
			return err
		}
	}

	return nil
}

// handleChunkFrame is the "Chunk receipt" path (spec.md §4.8): write
// straight to CAS, then finalize the file once the last chunk lands.
func (s *Session) handleChunkFrame(ctx context.Context, raw []byte) error {
	header, data, err := wire.DecodeChunk(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", bdperr.ErrDecode, err)
	}

	dt, ok := s.downloads[header.TransferID]
	if !ok {
		s.logger.Warn("chunk for unknown transfer", "transferId", header.TransferID)
		return nil
	}

	if err := s.putChunkWithRetry(ctx, header.ChunkHash, data, header.Compressed); err != nil {
		s.stats.Errors++

		if sendErr := s.send(ctx, wire.FrameAck, wire.AckPayload{
			TransferID: header.TransferID, Path: dt.entry.Path, Status: wire.AckWriteError, ErrorMessage: err.Error(),
		}); sendErr != nil {
			return sendErr
		}

		return err
	}

	dt.received[header.ChunkHash] = data

	if !header.IsLast {
		return nil
	}

	delete(s.downloads, header.TransferID)

	return s.finalizeDownload(ctx, dt.entry, dt)
}

// putChunkWithRetry retries a CAS write with the standard exponential
// backoff (spec.md §4.8 "Retry"). Every failed attempt counts against the
// session-wide retryCount, so it gives up with ErrRetryExhausted once that
// shared count passes MaxRetries. It surfaces a retrying blip without
// tearing down the whole session for a single failed blob write.
func (s *Session) putChunkWithRetry(ctx context.Context, hash string, data []byte, compressed bool) error {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		err := s.blobs.Put(ctx, hash, data, compressed)
		if err == nil {
			return nil
		}

		lastErr = err
		s.retryCount++
		if s.retryCount > MaxRetries {
			return fmt.Errorf("%w: %v", bdperr.ErrRetryExhausted, lastErr)
		}

		prev := s.state
		s.setState(StateRetrying)

		delay := time.Duration(RetryBaseDelayMS) * time.Millisecond * time.Duration(1<<uint(s.retryCount-1))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		s.setState(prev)
	}

	return lastErr
}

// finalizeDownload materializes a fully-received file, verifies its
// content hash, advances the local index and Merkle tree, and ACKs the
// sender. dt is nil when every chunk was already deduplicated locally
// (spec.md §4.8 "If needChunks is empty, finalize this file immediately").
func (s *Session) finalizeDownload(ctx context.Context, e model.FileEntry, dt *downloadTransfer) error {
	transferID := ""
	if dt != nil {
		transferID = dt.transferID
	}

	if !e.Tombstone {
		content, origSize, err := s.assembleContent(e.ChunkHashes)
		if err != nil {
			return s.ackFailure(ctx, transferID, e.Path, wire.AckWriteError, err)
		}

		result, hashErr := chunk.Hash(bytes.NewReader(content))
		if hashErr != nil {
			return hashErr
		}

		if result.WholeHash != e.Hash {
			_ = s.send(ctx, wire.FrameAck, wire.AckPayload{TransferID: transferID, Path: e.Path, Status: wire.AckHashMismatch})
			return fmt.Errorf("%w: path %s", bdperr.ErrHashMismatch, e.Path)
		}

		if err := s.sink.Write(ctx, s.pairID.String(), e.Path, bytes.NewReader(content)); err != nil {
			return s.ackFailure(ctx, transferID, e.Path, wire.AckWriteError, err)
		}

		s.stats.FilesDownloaded++
		s.stats.BytesDownloaded += e.Size

		if dt != nil {
			// Approximate dedup accounting per spec.md §9 note 3: the
			// source divides file size by chunk count rather than
			// summing actual deduplicated chunk sizes.
			haveCount := len(e.ChunkHashes) - len(dt.needChunks)
			if haveCount > 0 && len(e.ChunkHashes) > 0 {
				s.stats.BytesSavedDedup += origSize / int64(len(e.ChunkHashes)) * int64(haveCount)
			}
		}
	} else {
		if err := s.sink.Delete(ctx, s.pairID.String(), e.Path); err != nil {
			return s.ackFailure(ctx, transferID, e.Path, wire.AckWriteError, err)
		}
	}

	merged := e.Clone()
	merged.VectorClock = merged.VectorClock.Increment(s.deviceID.String())
	merged.DeviceID = s.deviceID

	stamped, err := s.idx.PutEntry(ctx, merged)
	if err != nil {
		return err
	}

	if err := s.tree.Update(ctx, s.pairID, stamped); err != nil {
		return err
	}

	if err := s.send(ctx, wire.FrameAck, wire.AckPayload{TransferID: transferID, Path: e.Path, Status: wire.AckOK}); err != nil {
		return err
	}

	if s.activeTransfers > 0 {
		s.activeTransfers--
	}

	delete(s.pendingConflicts, e.Path)

	return s.drainQueues(ctx)
}

func (s *Session) ackFailure(ctx context.Context, transferID, path, status string, cause error) error {
	if sendErr := s.send(ctx, wire.FrameAck, wire.AckPayload{
		TransferID: transferID, Path: path, Status: status, ErrorMessage: cause.Error(),
	}); sendErr != nil {
		return sendErr
	}

	return cause
}

// assembleContent reads every chunk of an ordered chunk list from CAS and
// concatenates it, returning the total original byte count alongside the
// bytes for dedup accounting.
func (s *Session) assembleContent(hashes []string) ([]byte, int64, error) {
	var buf bytes.Buffer

	for _, h := range hashes {
		data, err := s.blobs.Get(h)
		if err != nil {
			return nil, 0, err
		}

		buf.Write(data)
	}

	return buf.Bytes(), int64(buf.Len()), nil
}

// handleAck is the upload side's receipt confirmation (spec.md §4.8
// "Chunk receipt" / "Retry"): releases the concurrency slot and, on
// failure, requeues the upload for another attempt.
func (s *Session) handleAck(ctx context.Context, env wire.Envelope) error {
	var p wire.AckPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	e, pending := s.pendingUploads[p.Path]
	if !pending {
		return nil
	}

	delete(s.pendingUploads, p.Path)
	s.activeTransfers--

	switch p.Status {
	case wire.AckOK:
		s.stats.FilesUploaded++
	default:
		s.stats.Errors++
		s.uploadQueue = append(s.uploadQueue, e)
	}

	return s.drainQueues(ctx)
}
