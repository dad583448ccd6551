package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/repositories"
	"github.com/desertthunder/libmirror/internal/services"
	"github.com/desertthunder/libmirror/internal/shared"
	th "github.com/desertthunder/libmirror/internal/testing"
	"golang.org/x/time/rate"
)

type testEnv struct {
	fake    *th.SpotifyFake
	users   *repositories.UserRepository
	library *repositories.LibraryRepository
	runs    *repositories.SyncRunRepository
	engine  *ImportEngine
	user    *models.User
}

func fakePlaylists(n, tracks int) []th.FakePlaylist {
	playlists := make([]th.FakePlaylist, n)
	for i := range playlists {
		id := fmt.Sprintf("pl%d", i)
		playlists[i] = th.FakePlaylist{ID: id, Name: "Playlist " + id, Tracks: th.FakeTracks(id, tracks)}
	}
	return playlists
}

func newTestEnv(t *testing.T, saved []th.FakeTrack, playlists []th.FakePlaylist, opts EngineOptions) *testEnv {
	t.Helper()

	db := th.NewTestDB(t)
	env := &testEnv{
		fake:    th.NewSpotifyFake(t, "spotify-user", saved, playlists),
		users:   repositories.NewUserRepository(db, shared.SQLite),
		library: repositories.NewLibraryRepository(db, shared.SQLite),
		runs:    repositories.NewSyncRunRepository(db, shared.SQLite),
		user:    th.NewUser("spotify-user"),
	}
	if err := env.users.SaveUser(context.Background(), env.user); err != nil {
		t.Fatalf("failed to save user: %v", err)
	}

	catalog := services.NewCatalogClient(services.CatalogOptions{
		BaseURL:     env.fake.URL,
		HTTPClient:  env.fake.Client(),
		PageSize:    5,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		Limiter:     rate.NewLimiter(rate.Inf, 1),
		Logger:      log.New(io.Discard),
	})
	auth := services.NewAuthenticator(env.fake.OAuth2(), env.fake.Client())

	if opts.Runs == nil {
		opts.Runs = env.runs
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	env.engine = NewImportEngine(env.users, env.library, catalog, auth, opts)
	return env
}

func (env *testEnv) stored(t *testing.T) []models.Playlist {
	t.Helper()
	playlists, err := env.library.Playlists(context.Background(), env.user.ID)
	if err != nil {
		t.Fatalf("failed to read stored playlists: %v", err)
	}
	return playlists
}

// contentOf reduces a mirror to its provider data, dropping the per-sync local ids and import time.
func contentOf(playlists []models.Playlist) []string {
	return rowsOf(playlists, false)
}

// rowsOf renders every playlist and track row. withIDs includes local ids and import times.
func rowsOf(playlists []models.Playlist, withIDs bool) []string {
	var out []string
	for _, p := range playlists {
		row := fmt.Sprintf("%s|%s|%s|%s|%s|%d", p.ProviderID, p.Name, deref(p.Description), deref(p.ImageURL), p.URL, p.TrackCount())
		if withIDs {
			row = p.ID + "|" + p.ImportedAt.UTC().Format(time.RFC3339Nano) + "|" + row
		}
		out = append(out, row)

		for _, tr := range p.Tracks {
			added := "-"
			if tr.AddedAt != nil {
				added = tr.AddedAt.UTC().Format(time.RFC3339)
			}
			row := fmt.Sprintf("  %s|%s|%s|%s|%d|%s|%s", tr.ProviderID, tr.Name, tr.Artist, tr.Album, tr.DurationMS, tr.URL, added)
			if withIDs {
				row = "  " + tr.ID + row
			}
			out = append(out, row)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []models.SyncRun
	err  error
}

func (n *recordingNotifier) LibrarySynced(_ context.Context, run models.SyncRun) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	return n.err
}

func TestImportEngine_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("commits saved tracks first then playlists in listing order", func(t *testing.T) {
		playlists := []th.FakePlaylist{
			{ID: "zeta", Name: "Zeta", Tracks: th.FakeTracks("z", 12)},
			{ID: "alpha", Name: "Alpha", Tracks: th.FakeTracks("a", 0)},
			{ID: "mid", Name: "Mid", Tracks: th.FakeTracks("m", 5)},
		}
		env := newTestEnv(t, th.FakeTracks("saved", 7), playlists, EngineOptions{Concurrency: 3})

		committed, err := env.engine.Sync(ctx, env.user.ID)
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}

		wantNames := []string{models.LikedSongsName, "Zeta", "Alpha", "Mid"}
		wantCounts := []int{7, 12, 0, 5}
		if len(committed) != len(wantNames) {
			t.Fatalf("expected %d playlists, got %d", len(wantNames), len(committed))
		}
		for i, p := range committed {
			if p.Name != wantNames[i] || p.TrackCount() != wantCounts[i] {
				t.Errorf("playlist %d: got %s (%d), want %s (%d)", i, p.Name, p.TrackCount(), wantNames[i], wantCounts[i])
			}
		}
		if !committed[0].IsLikedSongs() || committed[0].ProviderID != models.LikedSongsID(env.user.ID) {
			t.Errorf("expected synthesized liked songs first, got %+v", committed[0].ProviderID)
		}
		for i, tr := range committed[1].Tracks {
			if tr.ProviderID != fmt.Sprintf("z-%d", i) {
				t.Errorf("track %d out of order: %s", i, tr.ProviderID)
			}
		}

		if !equalStrings(contentOf(committed), contentOf(env.stored(t))) {
			t.Error("stored mirror differs from committed playlists")
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 3), fakePlaylists(4, 6), EngineOptions{})

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("first sync failed: %v", err)
		}
		first := env.stored(t)

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("second sync failed: %v", err)
		}
		second := env.stored(t)

		if !equalStrings(contentOf(first), contentOf(second)) {
			t.Errorf("mirror changed between identical syncs:\n%v\n%v", contentOf(first), contentOf(second))
		}
	})

	t.Run("fails fast and keeps the previous mirror", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 2), fakePlaylists(6, 3), EngineOptions{Concurrency: 2})

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("first sync failed: %v", err)
		}
		before := env.stored(t)

		env.fake.FailPlaylist("pl3", http.StatusNotFound)
		_, err := env.engine.Sync(ctx, env.user.ID)

		var ierr *shared.ImportError
		if !errors.As(err, &ierr) {
			t.Fatalf("expected ImportError, got %v", err)
		}
		if ierr.Phase != FanOutTracks.String() || ierr.UserID != env.user.ID {
			t.Errorf("unexpected import error %+v", ierr)
		}
		if !shared.IsProviderKind(err, shared.Malformed) {
			t.Errorf("expected malformed provider cause, got %v", err)
		}

		after := env.stored(t)
		if !equalStrings(rowsOf(before, true), rowsOf(after, true)) {
			t.Errorf("failed sync changed the stored mirror:\n%v\n%v", rowsOf(before, true), rowsOf(after, true))
		}
	})

	t.Run("zero saved tracks is an import error", func(t *testing.T) {
		env := newTestEnv(t, nil, fakePlaylists(2, 2), EngineOptions{})

		_, err := env.engine.Sync(ctx, env.user.ID)
		if !errors.Is(err, shared.ErrImport) || !errors.Is(err, shared.ErrNoSavedTracks) {
			t.Fatalf("expected import error caused by no saved tracks, got %v", err)
		}
		if got := env.stored(t); len(got) != 0 {
			t.Errorf("expected nothing stored, got %d playlists", len(got))
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 1), nil, EngineOptions{})

		_, err := env.engine.Sync(ctx, "nobody")
		var nf *shared.NotFoundError
		if !errors.As(err, &nf) || nf.Entity != "user" {
			t.Fatalf("expected user NotFoundError, got %v", err)
		}
		if !errors.Is(err, shared.ErrImport) {
			t.Error("expected error to be an import error")
		}
		if env.fake.Requests() != 0 {
			t.Errorf("expected no provider requests, got %d", env.fake.Requests())
		}
	})

	t.Run("no playlists commits liked songs only", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 4), nil, EngineOptions{})

		committed, err := env.engine.Sync(ctx, env.user.ID)
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if len(committed) != 1 || !committed[0].IsLikedSongs() {
			t.Errorf("expected only liked songs, got %d playlists", len(committed))
		}
	})

	t.Run("refreshes an expired token once", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 2), fakePlaylists(5, 2), EngineOptions{Concurrency: 5})
		env.fake.RequireToken("not-yet-issued")

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if got := env.fake.Refreshes(); got != 1 {
			t.Errorf("expected exactly one refresh, got %d", got)
		}

		user, err := env.users.GetUser(ctx, env.user.ID)
		if err != nil {
			t.Fatalf("failed to reload user: %v", err)
		}
		if user.AccessToken != "refreshed-1" {
			t.Errorf("expected refreshed token to be persisted, got %s", user.AccessToken)
		}
		if user.RefreshToken != env.user.RefreshToken {
			t.Errorf("expected refresh token to be kept, got %s", user.RefreshToken)
		}
	})

	t.Run("revoked refresh token", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 2), nil, EngineOptions{})
		env.fake.RequireToken("other")
		env.user.RefreshToken = ""
		if err := env.users.SaveUser(ctx, env.user); err != nil {
			t.Fatalf("failed to save user: %v", err)
		}

		_, err := env.engine.Sync(ctx, env.user.ID)
		if !shared.IsAuthReason(err, shared.RefreshRevoked) {
			t.Fatalf("expected refresh revoked, got %v", err)
		}
		var ierr *shared.ImportError
		if !errors.As(err, &ierr) || ierr.Phase != FetchSaved.String() {
			t.Errorf("expected failure during fetch_saved, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 2), fakePlaylists(3, 2), EngineOptions{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := env.engine.Sync(cctx, env.user.ID)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("uninitialized engine", func(t *testing.T) {
		engine := NewImportEngine(nil, nil, nil, nil, EngineOptions{Logger: log.New(io.Discard)})
		if _, err := engine.Sync(ctx, "u1"); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})
}

func TestImportEngine_Concurrency(t *testing.T) {
	ctx := context.Background()
	const latency = 100 * time.Millisecond

	t.Run("fan-out overlaps playlist fetches", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 1), fakePlaylists(10, 2), EngineOptions{Concurrency: 10})
		env.fake.SetLatency(latency)

		start := time.Now()
		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		elapsed := time.Since(start)

		if elapsed >= 3*latency {
			t.Errorf("expected concurrent fetches to finish within %v, took %v", 3*latency, elapsed)
		}
		if env.fake.MaxConcurrent() < 2 {
			t.Errorf("expected overlapping requests, max in flight was %d", env.fake.MaxConcurrent())
		}
	})

	t.Run("fan-out respects the bound", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 1), fakePlaylists(8, 1), EngineOptions{Concurrency: 3})
		env.fake.SetLatency(20 * time.Millisecond)

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if got := env.fake.MaxConcurrent(); got > 3 {
			t.Errorf("expected at most 3 requests in flight, got %d", got)
		}
	})
}

func TestImportEngine_RunsAndProgress(t *testing.T) {
	ctx := context.Background()

	t.Run("records runs", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 2), fakePlaylists(2, 3), EngineOptions{})

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		env.fake.FailPlaylist("pl1", http.StatusForbidden)
		if _, err := env.engine.Sync(ctx, env.user.ID); err == nil {
			t.Fatal("expected second sync to fail")
		}

		runs, err := env.runs.ListRuns(ctx, env.user.ID, 10)
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}

		failed, succeeded := runs[0], runs[1]
		if failed.Status != models.SyncFailed || failed.Error == "" {
			t.Errorf("expected failed run with error, got %+v", failed)
		}
		if succeeded.Status != models.SyncSucceeded || succeeded.PlaylistCount != 3 || succeeded.TrackCount != 8 {
			t.Errorf("unexpected succeeded run %+v", succeeded)
		}
	})

	t.Run("notifies after commit", func(t *testing.T) {
		notifier := &recordingNotifier{}
		env := newTestEnv(t, th.FakeTracks("saved", 2), fakePlaylists(1, 1), EngineOptions{Notifier: notifier})

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if len(notifier.runs) != 1 || notifier.runs[0].UserID != env.user.ID || notifier.runs[0].TrackCount != 3 {
			t.Errorf("unexpected notifications %+v", notifier.runs)
		}
	})

	t.Run("notification failure does not fail the sync", func(t *testing.T) {
		notifier := &recordingNotifier{err: errors.New("redis down")}
		env := newTestEnv(t, th.FakeTracks("saved", 2), nil, EngineOptions{Notifier: notifier})

		if _, err := env.engine.Sync(ctx, env.user.ID); err != nil {
			t.Fatalf("expected sync to succeed, got %v", err)
		}
	})

	t.Run("failed sync does not notify", func(t *testing.T) {
		notifier := &recordingNotifier{}
		env := newTestEnv(t, nil, nil, EngineOptions{Notifier: notifier})

		if _, err := env.engine.Sync(ctx, env.user.ID); err == nil {
			t.Fatal("expected sync to fail")
		}
		if len(notifier.runs) != 0 {
			t.Error("expected no notification")
		}
	})

	t.Run("reports phases in order", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 2), fakePlaylists(3, 1), EngineOptions{})
		progress := make(chan ProgressUpdate, 64)

		if _, err := env.engine.Run(ctx, env.user.ID, progress); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		close(progress)

		var phases []Phase
		fetched := 0
		for update := range progress {
			if len(phases) == 0 || phases[len(phases)-1] != update.Phase {
				phases = append(phases, update.Phase)
			}
			if update.Phase == FanOutTracks && update.Step > 0 {
				fetched++
			}
		}

		want := []Phase{Start, FetchSaved, FetchPlaylistList, FanOutTracks, Assemble, Commit, Done}
		if len(phases) != len(want) {
			t.Fatalf("expected phases %v, got %v", want, phases)
		}
		for i := range want {
			if phases[i] != want[i] {
				t.Errorf("phase %d: expected %s, got %s", i, want[i], phases[i])
			}
		}
		if fetched != 3 {
			t.Errorf("expected 3 per-playlist updates, got %d", fetched)
		}
	})

	t.Run("full progress channel never blocks", func(t *testing.T) {
		env := newTestEnv(t, th.FakeTracks("saved", 2), fakePlaylists(3, 1), EngineOptions{})
		progress := make(chan ProgressUpdate)

		if _, err := env.engine.Run(ctx, env.user.ID, progress); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
	})
}

func TestPhase_String(t *testing.T) {
	tc := []struct {
		phase Phase
		want  string
	}{
		{Start, "start"},
		{FetchSaved, "fetch_saved"},
		{FetchPlaylistList, "fetch_playlist_list"},
		{FanOutTracks, "fan_out_tracks"},
		{Assemble, "assemble"},
		{Commit, "commit"},
		{Done, "done"},
		{Failed, "failed"},
		{Reimport, "reimport"},
		{Phase(99), ""},
	}

	for _, tt := range tc {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.phase.String(); got != tt.want {
				t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
			}
		})
	}
}
