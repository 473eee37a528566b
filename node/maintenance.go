package node

import (
	"bytes"
	"context"
	"os"
	"time"

	"dagledger/core"
)

// maintenanceInterval and snapshotInterval are the cache-GC and WAL
// snapshot cadences of §5 ("unhandled purged after 120s / temp-bad free
// after 60s") and §6's periodic snapshot.
const (
	maintenanceInterval = 15 * time.Second
	snapshotInterval    = 5 * time.Minute
)

// RunMaintenance runs until ctx is cancelled, periodically purging aged
// unhandled and temp-bad-free joints from the cache, advertising the
// resulting good free tips, and writing a gzip snapshot of the store.
func (b *Bootstrap) RunMaintenance(ctx context.Context, clk core.Clock, store *core.FileStore, snapshotPath string) {
	gcTicker := clk.NewTicker(maintenanceInterval)
	defer gcTicker.Stop()
	snapTicker := clk.NewTicker(snapshotInterval)
	defer snapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gcTicker.C:
			purgedUnhandled := b.Core.Cache.PurgeOldUnhandled(core.DefaultUnhandledTTL)
			purgedTempBad := b.Core.Cache.PurgeTempBadFree(core.DefaultTempBadFreeTTL)
			if len(purgedUnhandled) > 0 || len(purgedTempBad) > 0 {
				b.log.WithField("unhandled", len(purgedUnhandled)).
					WithField("temp_bad_free", len(purgedTempBad)).
					Debug("node: cache maintenance purge")
			}
			if hashes := b.Core.Cache.FreeHashes(); len(hashes) > 0 {
				if err := b.BroadcastFreeJointsEnd(hashes); err != nil {
					b.log.WithError(err).Debug("node: broadcast free_joints_end")
				}
			}
		case <-snapTicker.C:
			var buf bytes.Buffer
			if err := core.SnapshotGzip(store, &buf); err != nil {
				b.log.WithError(err).Warn("node: snapshot store")
				continue
			}
			if err := os.WriteFile(snapshotPath, buf.Bytes(), 0o644); err != nil {
				b.log.WithError(err).Warn("node: write snapshot")
			}
		}
	}
}
