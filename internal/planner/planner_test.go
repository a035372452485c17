package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/vectorclock"
)

func basePair() model.SyncPair {
	return model.SyncPair{
		PairID:           ids.NewPairID(),
		Direction:        model.DirectionBidirectional,
		ConflictStrategy: model.StrategyLastWriteWins,
	}
}

func TestPlanSyncLocalOnlyUploads(t *testing.T) {
	pair := basePair()

	local := []model.FileEntry{{Path: "a.txt", Hash: "h1", VectorClock: vectorclock.Clock{"d1": 1}}}

	plan := PlanSync(local, nil, pair)
	require.Len(t, plan.Upload, 1)
	require.Empty(t, plan.Download)
	require.Empty(t, plan.Conflicts)
}

func TestPlanSyncTombstonedLocalOnlyDropped(t *testing.T) {
	pair := basePair()

	local := []model.FileEntry{{Path: "a.txt", Tombstone: true}}

	plan := PlanSync(local, nil, pair)
	require.Empty(t, plan.Upload)
	require.Empty(t, plan.Download)
}

func TestPlanSyncRemoteOnlyDownloads(t *testing.T) {
	pair := basePair()

	remote := []model.FileEntry{{Path: "b.txt", Hash: "h2", VectorClock: vectorclock.Clock{"d2": 1}}}

	plan := PlanSync(nil, remote, pair)
	require.Len(t, plan.Download, 1)
}

func TestPlanSyncRemoteOnlyTombstonedSkipped(t *testing.T) {
	pair := basePair()

	remote := []model.FileEntry{{Path: "b.txt", Tombstone: true}}

	plan := PlanSync(nil, remote, pair)
	require.Empty(t, plan.Download)
}

func TestPlanSyncUnchangedWhenHashAndTombstoneMatch(t *testing.T) {
	pair := basePair()

	local := []model.FileEntry{{Path: "a.txt", Hash: "same", VectorClock: vectorclock.Clock{"d1": 2}}}
	remote := []model.FileEntry{{Path: "a.txt", Hash: "same", VectorClock: vectorclock.Clock{"d2": 1}}}

	plan := PlanSync(local, remote, pair)
	require.Equal(t, 1, plan.UnchangedCount)
	require.Empty(t, plan.Upload)
	require.Empty(t, plan.Download)
}

func TestPlanSyncLocalDominatesUploads(t *testing.T) {
	pair := basePair()

	local := []model.FileEntry{{Path: "a.txt", Hash: "newhash", VectorClock: vectorclock.Clock{"d1": 2, "d2": 1}}}
	remote := []model.FileEntry{{Path: "a.txt", Hash: "oldhash", VectorClock: vectorclock.Clock{"d1": 1, "d2": 1}}}

	plan := PlanSync(local, remote, pair)
	require.Len(t, plan.Upload, 1)
	require.Empty(t, plan.Download)
}

func TestPlanSyncRemoteDominatesDownloads(t *testing.T) {
	pair := basePair()

	local := []model.FileEntry{{Path: "a.txt", Hash: "oldhash", VectorClock: vectorclock.Clock{"d1": 1, "d2": 1}}}
	remote := []model.FileEntry{{Path: "a.txt", Hash: "newhash", VectorClock: vectorclock.Clock{"d1": 2, "d2": 1}}}

	plan := PlanSync(local, remote, pair)
	require.Len(t, plan.Download, 1)
	require.Empty(t, plan.Upload)
}

func TestPlanSyncConcurrentClocksConflict(t *testing.T) {
	pair := basePair()

	local := []model.FileEntry{{Path: "a.txt", Hash: "h1", MtimeMS: 100, VectorClock: vectorclock.Clock{"d1": 2}}}
	remote := []model.FileEntry{{Path: "a.txt", Hash: "h2", MtimeMS: 200, VectorClock: vectorclock.Clock{"d2": 2}}}

	plan := PlanSync(local, remote, pair)
	require.Len(t, plan.Conflicts, 1)
	require.Equal(t, model.ResolutionKeepRemote, plan.Conflicts[0].AutoResolution)
}

func TestPlanSyncUploadOnlyDirectionBlocksDownload(t *testing.T) {
	pair := basePair()
	pair.Direction = model.DirectionUploadOnly

	remote := []model.FileEntry{{Path: "b.txt", Hash: "h2"}}

	plan := PlanSync(nil, remote, pair)
	require.Empty(t, plan.Download)
}

func TestPlanSyncMaxFileSizeFiltersDownload(t *testing.T) {
	pair := basePair()
	pair.MaxFileSizeBytes = 100

	remote := []model.FileEntry{{Path: "big.bin", Size: 1000, Hash: "h"}}

	plan := PlanSync(nil, remote, pair)
	require.Empty(t, plan.Download)
}

func TestPlanSyncExcludePatternFiltersUpload(t *testing.T) {
	pair := basePair()
	pair.ExcludePatterns = []string{"*.tmp"}

	local := []model.FileEntry{{Path: "file.tmp", Hash: "h"}}

	plan := PlanSync(local, nil, pair)
	require.Empty(t, plan.Upload)
}

func TestPlanSyncIncludePatternRestrictsUpload(t *testing.T) {
	pair := basePair()
	pair.IncludePatterns = []string{"docs/**"}

	local := []model.FileEntry{
		{Path: "docs/readme.md", Hash: "h1"},
		{Path: "other/file.txt", Hash: "h2"},
	}

	plan := PlanSync(local, nil, pair)
	require.Len(t, plan.Upload, 1)
	require.Equal(t, "docs/readme.md", plan.Upload[0].Path)
}

func TestPlanSyncTombstoneAlwaysPassesPatternFilter(t *testing.T) {
	pair := basePair()
	pair.IncludePatterns = []string{"docs/**"}

	local := []model.FileEntry{{Path: "other/deleted.txt", Tombstone: true, VectorClock: vectorclock.Clock{"d1": 2}}}
	remote := []model.FileEntry{{Path: "other/deleted.txt", Hash: "h1", VectorClock: vectorclock.Clock{"d1": 1}}}

	plan := PlanSync(local, remote, pair)
	require.Len(t, plan.Upload, 1) // local tombstone dominates; it lies outside docs/** yet is kept
	require.Len(t, plan.Conflicts, 0)
}

func TestAutoResolveStrategies(t *testing.T) {
	local := model.FileEntry{MtimeMS: 100}
	remote := model.FileEntry{MtimeMS: 200}

	require.Equal(t, model.ResolutionKeepRemote, AutoResolve(local, remote, model.StrategyLastWriteWins))
	require.Equal(t, model.ResolutionKeepLocal, AutoResolve(remote, local, model.StrategyLastWriteWins))
	require.Equal(t, model.ResolutionKeepLocal, AutoResolve(local, remote, model.StrategyLocalWins))
	require.Equal(t, model.ResolutionKeepRemote, AutoResolve(local, remote, model.StrategyRemoteWins))
	require.Equal(t, model.ResolutionNone, AutoResolve(local, remote, model.StrategyManual))
}
