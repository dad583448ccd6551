package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/libmirror/internal/shared"
)

// BatchResult summarizes a [ImportEngine.ReimportAll] pass.
type BatchResult struct {
	Total     int              // Users attempted
	Succeeded int              // Users whose mirror was replaced
	Failed    int              // Users whose sync failed
	Failures  map[string]error // Failure per user ID
	Elapsed   time.Duration
}

type reimportResult struct {
	userID string
	err    error
}

// ReimportAll syncs every stored user with a pool of batch workers.
//
// One user's failure never stops the others; it is counted and kept in [BatchResult.Failures].
// An error is returned only when the user list cannot be read.
func (e *ImportEngine) ReimportAll(ctx context.Context, progress chan<- ProgressUpdate) (*BatchResult, error) {
	if e.users == nil {
		return nil, fmt.Errorf("%w: user store not initialized", shared.ErrServiceUnavailable)
	}

	started := time.Now()
	users, err := e.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	result := &BatchResult{Total: len(users), Failures: make(map[string]error)}
	e.logger.Info("reimporting all users", "users", len(users), "workers", e.batchWorkers)

	jobs := make(chan string, len(users))
	results := make(chan reimportResult, len(users))

	var wg sync.WaitGroup
	for range min(e.batchWorkers, max(len(users), 1)) {
		wg.Add(1)
		go e.reimportWorker(ctx, &wg, jobs, results)
	}

	for _, u := range users {
		jobs <- u.ID
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		if res.err != nil {
			result.Failed++
			result.Failures[res.userID] = res.err
			e.sendProgress(progress, userFailedUpdate(completed, len(users), res.userID, res.err))
			continue
		}
		result.Succeeded++
		e.sendProgress(progress, userSyncedUpdate(completed, len(users), res.userID))
	}

	result.Elapsed = time.Since(started)
	e.logger.Info("reimport complete", "succeeded", result.Succeeded, "failed", result.Failed, "elapsed", result.Elapsed.Round(time.Millisecond))
	return result, nil
}

// reimportWorker is a worker goroutine that syncs users from the jobs channel.
// Users still queued after ctx is cancelled are reported with the context error.
func (e *ImportEngine) reimportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan string,
	results chan<- reimportResult,
) {
	defer wg.Done()

	for userID := range jobs {
		if err := ctx.Err(); err != nil {
			results <- reimportResult{userID: userID, err: err}
			continue
		}

		_, err := e.Sync(ctx, userID)
		results <- reimportResult{userID: userID, err: err}
	}
}
