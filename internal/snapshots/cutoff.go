package snapshots

import (
	"context"
	"sort"

	"github.com/snapguard-io/snapguard/internal/config"
	"github.com/snapguard-io/snapguard/internal/logging"
	"github.com/snapguard-io/snapguard/internal/lsn"
)

// kbBytes converts the KB quota unit to bytes. The unit is decimal, matching
// how the server-side setting has always been interpreted.
const kbBytes = 1000

// Quota holds the two retention limits for the snapshot directory.
// A value of config.Disabled (-1) turns the corresponding limit off.
type Quota struct {
	// MaxFiles is the maximum allowed number of snapshot files.
	MaxFiles int

	// MaxDirSizeKB is the maximum allowed aggregate directory size in KB.
	MaxDirSizeKB int
}

func (q Quota) countEnabled() bool { return q.MaxFiles > config.Disabled }
func (q Quota) sizeEnabled() bool  { return q.MaxDirSizeKB > config.Disabled }

// Cutoff computes the restart-LSN cutoff for the given artifact population.
// Slots whose restart LSN is strictly below the returned value must be
// dropped for the next snapshot GC to bring the directory within both
// quotas. Returns lsn.Zero when no trimming is required.
//
// Both quotas can fire in the same invocation. The count pass keeps only the
// MaxFiles newest artifacts; the size pass then accumulates sizes within
// that kept window only, so files already past the count quota are not
// double-counted. When both passes yield a candidate the larger (newer) one
// wins: the size candidate always lies within the count pass's kept window,
// and only the larger candidate frees enough to satisfy both limits.
//
// If the single newest artifact alone exceeds the size quota there is no
// "last artifact that still fit" to cut at; the size pass then contributes
// nothing this cycle and a warning is logged, since dropping every slot
// would still leave the directory over quota.
func Cutoff(ctx context.Context, descs []Descriptor, quota Quota) lsn.LSN {
	log := logging.FromCtx(ctx)

	if !quota.countEnabled() && !quota.sizeEnabled() {
		return lsn.Zero
	}

	// Newest first. Directory order is meaningless, so sort every cycle.
	sorted := make([]Descriptor, len(descs))
	copy(sorted, descs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Position > sorted[j].Position
	})

	cutoff := lsn.Zero

	if quota.countEnabled() && len(sorted) >= quota.MaxFiles {
		if quota.MaxFiles == 0 {
			// Keep none: cut above the newest artifact.
			if len(sorted) > 0 {
				cutoff = sorted[0].Position + 1
			}
		} else {
			cutoff = sorted[quota.MaxFiles-1].Position
		}
		if cutoff != lsn.Zero {
			log.Infof("snapshot file count over quota", map[string]any{
				"cutoffLsn": cutoff.String(),
				"files":     len(sorted),
				"maxFiles":  quota.MaxFiles,
			})
		}
	}

	if quota.sizeEnabled() {
		kept := len(sorted)
		if quota.countEnabled() && quota.MaxFiles < kept {
			kept = quota.MaxFiles
		}

		limit := int64(quota.MaxDirSizeKB) * kbBytes
		var size int64
		for i := 0; i < kept; i++ {
			size += sorted[i].SizeBytes
			if size <= limit {
				continue
			}
			if i == 0 {
				log.Warnf("newest snapshot alone exceeds size quota, nothing to trim", map[string]any{
					"position":     sorted[0].Position.String(),
					"sizeBytes":    sorted[0].SizeBytes,
					"maxDirSizeKB": quota.MaxDirSizeKB,
				})
				break
			}
			sizeCutoff := sorted[i-1].Position
			if sizeCutoff > cutoff {
				cutoff = sizeCutoff
				log.Infof("snapshot directory size over quota", map[string]any{
					"cutoffLsn":    cutoff.String(),
					"maxDirSizeKB": quota.MaxDirSizeKB,
				})
			}
			break
		}
	}

	return cutoff
}
