// Package ui implements an interactive terminal browser for the stored library mirror using bubbletea's Elm architecture.
//
// The TUI reads from the local mirror and never calls the provider unless a resync is confirmed:
//  1. [PlaylistListView] : Browse stored playlists, Liked Songs first
//  2. [TrackListView] : Inspect a playlist's tracks in stored order
//  3. [ConfirmView] : Confirm a resync from the provider
//  4. [SyncView] : Monitor progress updates from the import engine
//  5. [ResultView] : Display the committed mirror or the failure
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, s, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
