// Package snapshots implements the logical decoding snapshot directory scan
// and the quota cutoff computation.
//
// The scanner lists .snap files and pairs each file's LSN (parsed from its
// name) with its size on disk. The calculator turns that population plus the
// two retention quotas into a single cutoff LSN: every logical slot whose
// restart LSN is below the cutoff must be dropped so the next snapshot GC can
// bring the directory back within quota.
package snapshots

import (
	"context"
	"fmt"
	"os"

	"github.com/snapguard-io/snapguard/internal/logging"
	"github.com/snapguard-io/snapguard/internal/lsn"
)

// Descriptor describes one snapshot artifact: its LSN and its size on disk.
// Descriptors are rebuilt from the directory on every scan and never cached
// across cycles; the population changes underneath us between cycles.
type Descriptor struct {
	Position  lsn.LSN
	SizeBytes int64
}

// Scan lists the snapshot directory and returns one Descriptor per .snap
// file. Entries whose names do not parse are skipped with a log entry.
// A directory read or stat failure fails the whole scan: computing a cutoff
// from a partial population could drop slots that are actually compliant.
//
// The returned slice is in no particular order.
func Scan(ctx context.Context, dir string) ([]Descriptor, error) {
	log := logging.FromCtx(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir %s: %w", dir, err)
	}

	descs := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		position, ok := lsn.ParseSnapFilename(entry.Name())
		if !ok {
			log.Debugf("skipping non-snapshot file", map[string]any{
				"dir":  dir,
				"name": entry.Name(),
			})
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s/%s: %w", dir, entry.Name(), err)
		}

		descs = append(descs, Descriptor{
			Position:  position,
			SizeBytes: info.Size(),
		})
	}

	return descs, nil
}

// TotalSize returns the aggregate size of the described artifacts.
func TotalSize(descs []Descriptor) int64 {
	var total int64
	for _, d := range descs {
		total += d.SizeBytes
	}
	return total
}
