package services

import (
	"context"
	"log"
	"time"
)

// AuditRetention is how long audit rows are kept.
const AuditRetention = 90 * 24 * time.Hour

// CleanupStore is the persistence the cleanup job needs.
type CleanupStore interface {
	ResetExpiredLockouts(ctx context.Context) (int64, error)
	PruneAuditLog(ctx context.Context, retention time.Duration) (int64, error)
}

// StartCleanupService runs RunCleanupTasks immediately and then on every
// interval until ctx is cancelled. The returned channel closes when the loop exits.
func StartCleanupService(ctx context.Context, store CleanupStore, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		RunCleanupTasks(ctx, store)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				RunCleanupTasks(ctx, store)
			}
		}
	}()
	return done
}

// RunCleanupTasks performs cleanup operations on the database
func RunCleanupTasks(ctx context.Context, store CleanupStore) {
	log.Println("🧹 Running scheduled cleanup tasks...")

	// Refresh tokens and sessions expire through Redis TTLs.

	if n, err := store.ResetExpiredLockouts(ctx); err != nil {
		log.Printf("⚠️ Failed to reset expired lockouts: %v", err)
	} else if n > 0 {
		log.Printf("✅ Reset failed login attempts for %d users", n)
	}

	if n, err := store.PruneAuditLog(ctx, AuditRetention); err != nil {
		log.Printf("⚠️ Failed to prune audit log: %v", err)
	} else if n > 0 {
		log.Printf("🗑️ Pruned %d audit entries older than %s", n, AuditRetention)
	}

	log.Println("🎯 Cleanup tasks completed")
}
