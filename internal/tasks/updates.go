package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Phase is a state of the sync state machine.
type Phase int

const (
	Start Phase = iota
	FetchSaved
	FetchPlaylistList
	FanOutTracks
	Assemble
	Commit
	Done
	Failed
	Reimport
)

func (p Phase) String() string {
	switch p {
	case Start:
		return "start"
	case FetchSaved:
		return "fetch_saved"
	case FetchPlaylistList:
		return "fetch_playlist_list"
	case FanOutTracks:
		return "fan_out_tracks"
	case Assemble:
		return "assemble"
	case Commit:
		return "commit"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Reimport:
		return "reimport"
	default:
		return ""
	}
}

func startUpdate(userID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Start,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Starting sync for %s...", userID),
	}
}

func fetchSavedUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSaved,
		Step:    1,
		Total:   1,
		Message: "Fetching saved tracks...",
	}
}

func savedFetchedUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSaved,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d saved tracks", count),
	}
}

func fetchPlaylistListUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchPlaylistList,
		Step:    1,
		Total:   1,
		Message: "Fetching playlists...",
	}
}

func fanOutUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FanOutTracks,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Fetching tracks for %d playlists...", total),
	}
}

func playlistFetchedUpdate(step, total int, name string, tracks int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FanOutTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s (%d tracks)", step, total, name, tracks),
	}
}

func assembleUpdate(playlists int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Assemble,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Assembling snapshot of %d playlists...", playlists),
	}
}

func commitUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   Commit,
		Step:    1,
		Total:   1,
		Message: "Replacing stored library...",
	}
}

func doneUpdate(playlists, tracks int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Done,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Synced %d playlists (%d tracks)", playlists, tracks),
	}
}

func failedUpdate(err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Failed,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Sync failed: %v", err),
		Data:    err,
	}
}

func userSyncedUpdate(step, total int, userID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reimport,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s", step, total, userID),
	}
}

func userFailedUpdate(step, total int, userID string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reimport,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, userID, err),
	}
}
