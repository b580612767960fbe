// Package device is the bridge's fan registry.
//
// Fans are stored in SQLite (the fans table) and cached in memory by
// Registry. The registry is the source the senseme bridge loads fans
// from on start, and the store it writes learned identities back to:
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	registry.Seed(ctx, cfg.SenseME.Fans)
//
//	bridge := senseme.NewBridge(senseme.Options{Registry: registry, Identities: registry, ...})
//
// HistoryRecorder is a senseme.StateObserver that appends every
// reconciled change to the state_history table without blocking the
// reconciler.
package device
