// Package tasks runs library synchronization with real-time progress reporting.
//
// # Core Operations
//
// The [SyncEngine] interface defines two operations:
//
//  1. [SyncEngine.Sync] : Replace one user's mirror
//     - Fetches saved tracks, then the playlist listing
//     - Fetches every playlist's tracks concurrently, bounded by the configured concurrency
//     - Assembles a snapshot with "Liked Songs" first and commits it in one transaction
//
//  2. [SyncEngine.ReimportAll] : Sync every stored user
//     - Runs users through a worker pool
//     - Counts failures per user without aborting the batch
//
// # Failure Semantics
//
// A sync is fail-fast: the first fetch error cancels the outstanding playlist fetches and the stored
// mirror is left untouched. The error is a [shared.ImportError] carrying the phase that failed.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # Implementation
//
// [ImportEngine] implements [SyncEngine] with dependencies on:
//   - [services.CatalogClient] : paginated Spotify reads
//   - [services.Authenticator] : per-run token contexts with coordinated refresh
//   - [UserStore], [LibraryStore] : persistence (repositories package)
//   - [RunRecorder], [Notifier] : optional run history and sync events
package tasks
