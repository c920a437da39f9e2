// Package storage defines the persistence contract of the asset authorization engine.
//
// # Overview
//
// The engine needs point lookups (user, asset), set lookups (grants by asset or
// recipient, users by role), predicate listing and atomic per-asset mutations. The
// contract is split into focused interfaces that compose into Store:
//
//   - UserReader / UserWriter: identity records
//   - AssetReader: GetAsset and predicate listing
//   - GrantReader: sharing directory lookups
//   - ApprovalReader: review history
//   - Transactor: InTx for atomic mutations
//   - HealthChecker: readiness probes
//
// # Transactions
//
// Every mutation runs inside Transactor.InTx. The Tx handed to the callback exposes
// GetAssetForUpdate, which takes the per-asset lock (SELECT ... FOR UPDATE in
// PostgreSQL, a per-asset mutex in memory). Audit events written through
// Tx.RecordAudit commit or roll back together with the mutation.
//
//	err := store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
//		asset, err := tx.GetAssetForUpdate(ctx, id)
//		if err != nil {
//			return err
//		}
//		asset.MarkApproved(reviewer.ID, time.Now())
//		if err := tx.UpdateAsset(ctx, asset); err != nil {
//			return err
//		}
//		return tx.RecordAudit(ctx, event)
//	})
//
// # Backends
//
//   - storage/postgres: lib/pq with squirrel-built queries, optional read replicas
//   - storage/memory: in-process maps for tests and single-node development
//
// # Errors
//
// Missing rows surface as assets.ErrNotFound so callers can use errors.Is regardless
// of backend.
package storage
