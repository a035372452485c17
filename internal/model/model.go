// Package model holds the persistent entity types from the BDP data model
// (spec.md §3), shared by the store, cas, index, merkle, planner, and
// session packages. Keeping them in one leaf package avoids import cycles
// between the components that read and write them.
package model

import (
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/vectorclock"
)

// Direction constrains which way a pair syncs.
type Direction string

// Direction values.
const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionUploadOnly    Direction = "upload-only"
	DirectionDownloadOnly  Direction = "download-only"
)

// AllowsUpload reports whether local-to-remote transfer is permitted.
func (d Direction) AllowsUpload() bool { return d != DirectionDownloadOnly }

// AllowsDownload reports whether remote-to-local transfer is permitted.
func (d Direction) AllowsDownload() bool { return d != DirectionUploadOnly }

// ConflictStrategy selects how a detected conflict is auto-resolved.
type ConflictStrategy string

// ConflictStrategy values.
const (
	StrategyLastWriteWins ConflictStrategy = "last-write-wins"
	StrategyLocalWins     ConflictStrategy = "local-wins"
	StrategyRemoteWins    ConflictStrategy = "remote-wins"
	StrategyManual        ConflictStrategy = "manual"
)

// Resolution describes the outcome applied to a conflicted path.
type Resolution string

// Resolution values.
const (
	ResolutionNone        Resolution = "none"
	ResolutionKeepLocal   Resolution = "keep-local"
	ResolutionKeepRemote  Resolution = "keep-remote"
)

// FileEntry is a per-(PairId, path) versioned index record (spec.md §3).
type FileEntry struct {
	PairID      ids.PairID
	Path        string
	Size        int64
	MtimeMS     int64
	Hash        string // lowercase hex SHA-256
	ChunkHashes []string
	Tombstone   bool
	VectorClock vectorclock.Clock
	DeviceID    ids.DeviceID
	Seq         uint64
}

// Clone returns a deep copy of e, so callers can mutate the result without
// aliasing the stored slices/maps.
func (e FileEntry) Clone() FileEntry {
	out := e
	out.ChunkHashes = append([]string(nil), e.ChunkHashes...)
	out.VectorClock = e.VectorClock.Clone()

	return out
}

// MerkleNode is a directory-level node in the incremental Merkle tree
// (spec.md §3, §4.5). NodePath is the directory portion of file paths; the
// empty string denotes the tree root.
type MerkleNode struct {
	PairID      ids.PairID
	NodePath    string
	Hash        string
	ChildHashes map[string]string
	ChildCount  int
}

// IndexRoot is the per-pair summary record (spec.md §3).
type IndexRoot struct {
	PairID     ids.PairID
	RootHash   string
	EntryCount int
	MaxSeq     uint64
	IndexID    string
	ComputedAt int64
	DeviceID   ids.DeviceID
}

// CASChunk is chunk metadata keyed by content hash (spec.md §3). The bytes
// themselves live in blob storage under the same key.
type CASChunk struct {
	Hash             string
	OriginalSize     int64
	StoredSize       int64
	StoredCompressed bool
	RefCount         int64
	CreatedAt        int64
	LastAccessedAt   int64
}

// SyncPair is the per-pair configuration record (spec.md §3).
type SyncPair struct {
	PairID           ids.PairID
	Devices          []ids.DeviceID
	Direction        Direction
	ConflictStrategy ConflictStrategy
	IncludePatterns  []string
	ExcludePatterns  []string
	MaxFileSizeBytes int64
	LastSyncedAt     int64
}

// DefaultMaxFileSizeBytes is the spec.md §6 default max file size (500 MB).
const DefaultMaxFileSizeBytes int64 = 500 * 1024 * 1024

// Conflict is keyed by (PairId, path) (spec.md §3).
type Conflict struct {
	PairID            ids.PairID
	Path              string
	Local             *FileEntry
	Remote            *FileEntry
	AutoResolution    Resolution
	DetectedAt        int64
	ResolvedAt        *int64
	AppliedResolution Resolution
}

// Unresolved reports whether the conflict has not yet been resolved.
func (c Conflict) Unresolved() bool { return c.ResolvedAt == nil }

// SyncType classifies how a completed session converged.
type SyncType string

// SyncType values.
const (
	SyncTypeNoChange  SyncType = "no_change"
	SyncTypeDelta     SyncType = "delta_sync"
	SyncTypeFull      SyncType = "full_sync"
)

// SyncHistory records one completed sync session (spec.md §4.8 "Finalize").
type SyncHistory struct {
	ID            string
	PairID        ids.PairID
	TS            int64
	PeerDeviceID  ids.DeviceID
	SyncType      SyncType
	Stats         TransferStats
	NewMerkleRoot string
}

// TransferStats accumulates the counters surfaced in DONE.stats (spec.md §4.7/§4.8).
type TransferStats struct {
	FilesUploaded    int
	FilesDownloaded  int
	FilesSkipped     int
	BytesUploaded    int64
	BytesDownloaded  int64
	BytesSavedDedup  int64
	ConflictsRaised  int
	Errors           int
}

// Device is a stable per-install identity record (SPEC_FULL.md §3).
type Device struct {
	DeviceID     ids.DeviceID
	Name         string
	PublicKeyB64 string
	Capabilities []string
	CreatedAt    int64
}

// TombstoneSentinelPrefix is the deterministic marker hashed with the path
// to produce a tombstone's leaf hash (spec.md §4.5).
const TombstoneSentinelPrefix = "__bdp_tombstone__:"
