// Package planner implements C6, the sync planner (spec.md §4.6): a
// single pass over local and remote file index entries that produces an
// upload/download/conflict work plan using vector-clock comparison, then
// applies size and glob filters. Grounded on the cascade shape of the
// teacher's filter engine (internal/sync/filter.go), generalized from
// OneDrive's allowlist/skip-pattern/ignore-file layering to BDP's
// dominance-rule diff and include/exclude globs.
package planner

import (
	"github.com/butterflysync/bdp/internal/glob"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/vectorclock"
)

// Plan is the output of a planning pass (spec.md §4.6): "{ upload[],
// download[], conflicts[], unchangedCount }".
type Plan struct {
	Upload         []model.FileEntry
	Download       []model.FileEntry
	Conflicts      []model.Conflict
	UnchangedCount int
}

// PlanSync computes the sync work plan for pair, given the local index and the
// remote entries received during index exchange.
func PlanSync(local, remote []model.FileEntry, pair model.SyncPair) Plan {
	remoteByPath := make(map[string]model.FileEntry, len(remote))
	for _, e := range remote {
		remoteByPath[e.Path] = e
	}

	localByPath := make(map[string]model.FileEntry, len(local))
	for _, e := range local {
		localByPath[e.Path] = e
	}

	var plan Plan

	for _, l := range local {
		r, hasRemote := remoteByPath[l.Path]

		if !hasRemote {
			if l.Tombstone {
				continue
			}

			if pair.Direction.AllowsUpload() {
				plan.Upload = append(plan.Upload, l)
			}

			continue
		}

		if l.Hash == r.Hash && l.Tombstone == r.Tombstone {
			plan.UnchangedCount++
			continue
		}

		switch l.VectorClock.Compare(r.VectorClock) {
		case vectorclock.Dominates:
			if pair.Direction.AllowsUpload() {
				plan.Upload = append(plan.Upload, l)
			}
		case vectorclock.Dominated:
			if pair.Direction.AllowsDownload() {
				plan.Download = append(plan.Download, r)
			}
		default:
			// Concurrent, or Identical clocks with divergent content
			// (pathological — spec.md §4.6 requires surfacing it).
			plan.Conflicts = append(plan.Conflicts, newConflict(l, r, pair.ConflictStrategy))
		}
	}

	for _, r := range remote {
		if _, hasLocal := localByPath[r.Path]; hasLocal {
			continue
		}

		if r.Tombstone {
			continue
		}

		if pair.Direction.AllowsDownload() {
			plan.Download = append(plan.Download, r)
		}
	}

	plan.Download = filterDownloads(plan.Download, pair)
	plan.Upload = filterByPatterns(plan.Upload, pair)
	plan.Download = filterByPatterns(plan.Download, pair)

	return plan
}

func newConflict(local, remote model.FileEntry, strategy model.ConflictStrategy) model.Conflict {
	l, r := local, remote

	c := model.Conflict{
		PairID:         local.PairID,
		Path:           local.Path,
		Local:          &l,
		Remote:         &r,
		AutoResolution: AutoResolve(local, remote, strategy),
	}

	return c
}

// AutoResolve computes the automatic resolution for a conflict per
// strategy (spec.md §4.6 "Auto-resolution").
func AutoResolve(local, remote model.FileEntry, strategy model.ConflictStrategy) model.Resolution {
	switch strategy {
	case model.StrategyLastWriteWins:
		if remote.MtimeMS > local.MtimeMS {
			return model.ResolutionKeepRemote
		}

		return model.ResolutionKeepLocal
	case model.StrategyLocalWins:
		return model.ResolutionKeepLocal
	case model.StrategyRemoteWins:
		return model.ResolutionKeepRemote
	default: // model.StrategyManual
		return model.ResolutionNone
	}
}

// filterDownloads drops downloads whose size exceeds the pair's configured
// maximum (spec.md §4.6 "Filters applied last"). Tombstones always pass
// regardless of size so delete propagation is never filtered out.
func filterDownloads(entries []model.FileEntry, pair model.SyncPair) []model.FileEntry {
	limit := pair.MaxFileSizeBytes
	if limit <= 0 {
		limit = model.DefaultMaxFileSizeBytes
	}

	out := entries[:0:0]

	for _, e := range entries {
		if !e.Tombstone && e.Size > limit {
			continue
		}

		out = append(out, e)
	}

	return out
}

// filterByPatterns applies the pair's include/exclude glob patterns.
// Tombstones always pass so deletes propagate regardless of pattern
// configuration (spec.md §4.6).
func filterByPatterns(entries []model.FileEntry, pair model.SyncPair) []model.FileEntry {
	if len(pair.IncludePatterns) == 0 && len(pair.ExcludePatterns) == 0 {
		return entries
	}

	out := entries[:0:0]

	for _, e := range entries {
		if e.Tombstone || matchesPatterns(e.Path, pair) {
			out = append(out, e)
		}
	}

	return out
}

func matchesPatterns(path string, pair model.SyncPair) bool {
	for _, pat := range pair.ExcludePatterns {
		if glob.Match(pat, path) {
			return false
		}
	}

	if len(pair.IncludePatterns) == 0 {
		return true
	}

	for _, pat := range pair.IncludePatterns {
		if glob.Match(pat, path) {
			return true
		}
	}

	return false
}
