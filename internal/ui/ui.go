package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/desertthunder/libmirror/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	TrackListView
	ConfirmView
	SyncView
	ResultView
)

// Library reads a user's stored mirror.
type Library interface {
	Playlists(ctx context.Context, userID string) ([]models.Playlist, error)
}

// Syncer replaces a user's mirror while reporting progress. It is satisfied by [tasks.ImportEngine].
type Syncer interface {
	Run(ctx context.Context, userID string, progress chan<- tasks.ProgressUpdate) ([]models.Playlist, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	userID       string
	view         ViewState
	library      Library
	syncer       Syncer
	width        int
	height       int
	playlistList list.Model
	playlists    []models.Playlist
	trackList    list.Model
	selected     *models.Playlist
	progressChan chan tasks.ProgressUpdate
	resultChan   chan Msg
	progress     tasks.ProgressUpdate
	synced       []models.Playlist
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a TUI model browsing userID's mirror. syncer may be nil, which disables resyncing.
func NewModel(ctx context.Context, userID string, library Library, syncer Syncer) *Model {
	return &Model{
		ctx:          ctx,
		userID:       userID,
		view:         PlaylistListView,
		library:      library,
		syncer:       syncer,
		playlistList: list.New(nil, list.NewDefaultDelegate(), 0, 0),
		trackList:    list.New(nil, list.NewDefaultDelegate(), 0, 0),
		help:         help.New(),
		keys:         newKeyMap(),
	}
}

// Init initializes the TUI by loading the stored mirror.
func (m *Model) Init() tea.Cmd {
	return m.loadPlaylists()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.playlistList.SetSize(msg.Width-4, msg.Height-8)
		m.trackList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case TrackListView:
			return m.handleTrackListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case SyncView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsLoaded:
		result := msg.data.(libraryResult)
		if result.err != nil {
			m.err = result.err
			return m, nil
		}
		m.err = nil
		m.setPlaylists(result.playlists)
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgSyncComplete:
		result := msg.data.(libraryResult)
		m.synced = result.playlists
		m.err = result.err
		m.progressChan = nil
		m.resultChan = nil
		m.view = ResultView
		if result.err == nil {
			m.setPlaylists(result.playlists)
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) setPlaylists(playlists []models.Playlist) {
	m.playlists = playlists
	m.playlistList = list.New(playlistItems(playlists), list.NewDefaultDelegate(), m.width-4, m.height-8)
	m.playlistList.Title = fmt.Sprintf("Library mirror for %s", m.userID)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case PlaylistListView:
		return m.renderPlaylistList()
	case TrackListView:
		return m.renderTrackList()
	case ConfirmView:
		return m.renderConfirm()
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.playlistList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.playlistList, cmd = m.playlistList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.sync):
		if m.syncer != nil {
			m.view = ConfirmView
		}
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if pl, ok := m.playlistList.SelectedItem().(playlistItem); ok {
			m.selected = &pl.playlist
			m.trackList = list.New(trackItems(pl.playlist.Tracks), list.NewDefaultDelegate(), m.width-4, m.height-8)
			m.trackList.Title = fmt.Sprintf("Tracks in '%s'", pl.playlist.Name)
			m.view = TrackListView
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.playlistList, cmd = m.playlistList.Update(msg)
	return m, cmd
}

func (m *Model) handleTrackListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.trackList.FilterState() != list.Filtering {
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.back):
			m.view = PlaylistListView
			m.selected = nil
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = SyncView
		return m, m.startSync()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.quit):
		m.view = PlaylistListView
		return m, nil
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.view = PlaylistListView
		m.synced = nil
		m.progress = tasks.ProgressUpdate{}
		if m.err != nil {
			m.err = nil
			return m, m.loadPlaylists()
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PlaylistListView:
		m.playlistList, cmd = m.playlistList.Update(msg)
	case TrackListView:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) loadPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.library.Playlists(m.ctx, m.userID)
		return playlistsLoadedMsg(playlists, err)
	}
}

// startSync runs the engine in the background. The result is queued before the progress channel closes,
// so waitForProgress always finds it once updates run out.
func (m *Model) startSync() tea.Cmd {
	progress := make(chan tasks.ProgressUpdate, 64)
	results := make(chan Msg, 1)
	m.progressChan, m.resultChan = progress, results

	go func() {
		playlists, err := m.syncer.Run(m.ctx, m.userID, progress)
		results <- syncCompleteMsg(playlists, err)
		close(progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, results := m.progressChan, m.resultChan
	return func() tea.Msg {
		update, ok := <-progress
		if !ok {
			return <-results
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderPlaylistList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.quit}
	if m.syncer != nil {
		helpKeys = []key.Binding{m.keys.enter, m.keys.sync, m.keys.quit}
	}
	if len(m.playlists) == 0 {
		empty := styles.warn.Render(fmt.Sprintf("No stored library for %s. Run a sync first.", m.userID))
		return fmt.Sprintf("%s\n\n%s", empty, m.help.ShortHelpView(helpKeys))
	}
	return fmt.Sprintf("%s\n\n%s", m.playlistList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderTrackList() string {
	helpKeys := []key.Binding{m.keys.back, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.trackList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render("Resync library from Spotify?")
	tracks := 0
	for _, p := range m.playlists {
		tracks += p.TrackCount()
	}
	info := fmt.Sprintf("\nUser: %s\nStored: %d playlists, %d tracks\n%s\n",
		m.userID, len(m.playlists), tracks,
		styles.help.Render("The stored mirror is replaced only if the whole sync succeeds."))

	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n%s", title, info, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderSync() string {
	title := styles.title.Render("Syncing Library")

	var phase string
	switch m.progress.Phase {
	case tasks.FetchSaved:
		phase = "Fetching saved tracks..."
	case tasks.FetchPlaylistList:
		phase = "Fetching playlists..."
	case tasks.FanOutTracks:
		phase = fmt.Sprintf("Fetching playlist tracks (%d/%d)", m.progress.Step, m.progress.Total)
	case tasks.Assemble, tasks.Commit:
		phase = "Replacing stored library..."
	default:
		phase = "Starting..."
	}

	return fmt.Sprintf("%s\n\n%s\n%s", title, phase, styles.help.Render(m.progress.Message))
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Sync failed: %v", m.err)) +
			"\n" + styles.warn.Render("The previously stored library is unchanged.") +
			"\n\n" + helpView
	}

	tracks := 0
	var b strings.Builder
	for _, p := range m.synced {
		tracks += p.TrackCount()
		fmt.Fprintf(&b, "\n  • %s (%d tracks)", p.Name, p.TrackCount())
	}

	title := styles.ok.Render("✓ Sync Complete!")
	info := fmt.Sprintf("\nPlaylists: %d\nTracks: %d\nDuration: %s",
		len(m.synced), tracks, shared.FormatDuration(totalDuration(m.synced)))
	return fmt.Sprintf("%s\n%s%s\n\n%s", title, info, b.String(), helpView)
}

func totalDuration(playlists []models.Playlist) int {
	total := 0
	for _, p := range playlists {
		total += p.DurationMS()
	}
	return total
}
