package eventloop

// syncState derives and publishes the "synced" boolean (C10, spec.md §2,
// §4.1 step 6: "Recompute and publish sync-state").
type syncState struct {
	synced bool
}

// recomputeSyncState decides synced from downloader activity: the node is synced
// once neither downloader has more work than our consensus chain already
// represents.
func (e *Eventloop) recomputeSyncState() {
	headerBehind := e.headerDL.DoHeaderRequests(e.chain.consensus.length, 0, nil) != nil
	blockBehind := e.blockDL.Active()
	newSynced := !headerBehind && !blockBehind

	if newSynced != e.syncState.synced {
		e.syncState.synced = newSynced
		e.logger.Info("sync state changed", "synced", newSynced)
		if e.peerDB != nil {
			e.peerDB.AsyncSetSynced(e.ctx, newSynced)
		}
	}
}
