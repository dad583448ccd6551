package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/libmirror/internal/formatter"
	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
	tu "github.com/desertthunder/libmirror/internal/testing"
	"github.com/urfave/cli/v3"
)

type cliEnv struct {
	runner *Runner
	output *bytes.Buffer
	fake   *tu.SpotifyFake
	config *shared.Config
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	fake := tu.NewSpotifyFake(t, "sp-user", tu.FakeTracks("saved", 3), []tu.FakePlaylist{
		{ID: "p1", Name: "Road Trip", Tracks: tu.FakeTracks("p1", 2)},
	})

	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(t.TempDir(), "mirror.db")
	config.Sync.RateLimit = 1000
	config.Redis.URL = ""

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:      config,
		Logger:      log.New(io.Discard),
		Output:      output,
		CatalogURL:  fake.URL,
		OAuth:       fake.OAuth2(),
		OpenBrowser: func(string) error { return errors.New("no browser in tests") },
	})
	return &cliEnv{runner: runner, output: output, fake: fake, config: config}
}

// run executes the CLI with args, without the config-loading hook of main.
func (e *cliEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	e.output.Reset()
	app := &cli.Command{Name: "mirror", Commands: e.runner.register()}
	return app.Run(context.Background(), append([]string{"mirror"}, args...))
}

func (e *cliEnv) seedUser(t *testing.T, user *models.User) *models.User {
	t.Helper()
	ctx := context.Background()
	s, err := e.runner.open(ctx, stackOpts{})
	if err != nil {
		t.Fatalf("failed to open stack: %v", err)
	}
	defer s.Close()

	if err := s.users.SaveUser(ctx, user); err != nil {
		t.Fatalf("failed to save user: %v", err)
	}
	return user
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				CatalogURL: "http://127.0.0.1:1",
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.catalogURL != "http://127.0.0.1:1" {
				t.Errorf("expected catalogURL to be set, got %s", runner.catalogURL)
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.openBrowser == nil {
				t.Error("expected a browser opener")
			}
		})

		t.Run("oauth config comes from credentials", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Credentials.Spotify.ClientID = "id"
			runner := NewRunner(RunnerOpts{Config: config})

			if got := runner.oauthConfig(); got.ClientID != "id" || got.Endpoint.TokenURL != shared.SpotifyTokenURL {
				t.Errorf("unexpected oauth config %+v", got)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := make(map[string]bool)
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}
		for _, want := range []string{"setup", "auth", "sync", "schedule", "serve", "playlists", "export", "runs", "browse"} {
			if !names[want] {
				t.Errorf("expected %q command to be registered", want)
			}
		}
	})
}

func TestSetup(t *testing.T) {
	env := newCLIEnv(t)
	env.runner.configPath = filepath.Join(t.TempDir(), "config.toml")

	if err := env.run(t, "setup"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	tu.AssertFileExists(t, env.runner.configPath)
	tu.AssertFileExists(t, env.config.Database.Path)
	if !strings.Contains(env.output.String(), "Database ready") {
		t.Errorf("unexpected output %q", env.output.String())
	}

	if err := env.run(t, "setup"); err != nil {
		t.Fatalf("second setup should keep the existing config: %v", err)
	}
	if strings.Contains(env.output.String(), "Created") {
		t.Error("existing config should not be recreated")
	}
}

func TestSyncCommands(t *testing.T) {
	t.Run("sync then read the mirror", func(t *testing.T) {
		env := newCLIEnv(t)
		user := env.seedUser(t, tu.NewUser("sp-user"))

		if err := env.run(t, "sync", "--user", user.ID); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if !strings.Contains(env.output.String(), "✓ Synced 2 playlists (5 tracks)") {
			t.Errorf("unexpected sync output %q", env.output.String())
		}

		if err := env.run(t, "playlists", "--user", user.ID, "--json", "--tracks", "--pretty=false"); err != nil {
			t.Fatalf("playlists failed: %v", err)
		}
		var docs []formatter.PlaylistDocument
		if err := json.Unmarshal(env.output.Bytes(), &docs); err != nil {
			t.Fatalf("invalid JSON output %q: %v", env.output.String(), err)
		}
		if len(docs) != 2 || docs[0].Name != models.LikedSongsName || docs[1].Name != "Road Trip" {
			t.Fatalf("unexpected playlists %+v", docs)
		}
		if len(docs[0].Tracks) != 3 || docs[1].Tracks[0].ProviderID != "p1-0" {
			t.Errorf("unexpected tracks %+v", docs)
		}

		if err := env.run(t, "playlists", "--user", user.ID); err != nil {
			t.Fatalf("playlists failed: %v", err)
		}
		if !strings.Contains(env.output.String(), "Found 2 playlists") {
			t.Errorf("unexpected playlists output %q", env.output.String())
		}

		if err := env.run(t, "runs", "--user", user.ID); err != nil {
			t.Fatalf("runs failed: %v", err)
		}
		if !strings.Contains(env.output.String(), "succeeded") || !strings.Contains(env.output.String(), "2 playlists, 5 tracks") {
			t.Errorf("unexpected runs output %q", env.output.String())
		}
	})

	t.Run("export", func(t *testing.T) {
		env := newCLIEnv(t)
		user := env.seedUser(t, tu.NewUser("sp-user"))
		dir := filepath.Join(t.TempDir(), "out")

		if err := env.run(t, "export", "--user", user.ID); err == nil || !errors.Is(err, shared.ErrNotFound) {
			t.Fatalf("expected not found before the first sync, got %v", err)
		}

		if err := env.run(t, "sync", "--user", user.ID); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if err := env.run(t, "export", "--user", user.ID, "--format", "csv", "--output", dir); err != nil {
			t.Fatalf("export failed: %v", err)
		}
		if !strings.Contains(env.output.String(), "✓ Exported 2 playlists as csv") {
			t.Errorf("unexpected export output %q", env.output.String())
		}
		tu.AssertFileExists(t, filepath.Join(dir, "p1_tracks.csv"))

		err := env.run(t, "export", "--user", user.ID, "--format", "xml", "--output", dir)
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid format error, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newCLIEnv(t)
		err := env.run(t, "sync", "--user", "missing")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
		if env.fake.Requests() != 0 {
			t.Errorf("expected no provider requests, got %d", env.fake.Requests())
		}
	})

	t.Run("missing user flag", func(t *testing.T) {
		env := newCLIEnv(t)
		if err := env.run(t, "sync"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected missing argument, got %v", err)
		}
	})

	t.Run("revoked authorization", func(t *testing.T) {
		env := newCLIEnv(t)
		user := tu.NewUser("sp-user")
		user.RefreshToken = ""
		env.seedUser(t, user)
		env.fake.RequireToken("valid")

		err := env.run(t, "sync", "--user", user.ID)
		if !shared.IsAuthReason(err, shared.RefreshRevoked) {
			t.Fatalf("expected revoked refresh, got %v", err)
		}
		if !strings.Contains(env.output.String(), "mirror auth login") {
			t.Errorf("expected login hint, got %q", env.output.String())
		}
	})

	t.Run("sync all", func(t *testing.T) {
		env := newCLIEnv(t)
		env.seedUser(t, tu.NewUser("sp-a"))
		env.seedUser(t, tu.NewUser("sp-b"))

		if err := env.run(t, "sync", "all"); err != nil {
			t.Fatalf("sync all failed: %v", err)
		}
		if !strings.Contains(env.output.String(), "Users: 2  Succeeded: 2  Failed: 0") {
			t.Errorf("unexpected output %q", env.output.String())
		}
	})

	t.Run("sync all reports failures", func(t *testing.T) {
		env := newCLIEnv(t)
		env.fake.RequireToken("valid")
		revoked := tu.NewUser("sp-revoked")
		revoked.RefreshToken = ""
		env.seedUser(t, revoked)

		err := env.run(t, "sync", "all")
		if !errors.Is(err, shared.ErrImport) {
			t.Fatalf("expected batch failure, got %v", err)
		}
		if !strings.Contains(env.output.String(), "✗ "+revoked.ID) {
			t.Errorf("expected failed user in output, got %q", env.output.String())
		}
	})

	t.Run("schedule rejects a bad expression", func(t *testing.T) {
		env := newCLIEnv(t)
		err := env.run(t, "schedule", "--cron", "every day")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

func TestAuthCommands(t *testing.T) {
	t.Run("login stores the account", func(t *testing.T) {
		env := newCLIEnv(t)
		env.runner.oauth.RedirectURL = "http://" + freeAddr(t) + "/auth/callback"

		callbackErr := make(chan error, 1)
		env.runner.openBrowser = func(authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			q := u.Query()
			callback := q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state")) + "&code=abc"
			go func() {
				resp, err := http.Get(callback)
				if err == nil {
					resp.Body.Close()
				}
				callbackErr <- err
			}()
			return nil
		}

		if err := env.run(t, "auth", "login", "--timeout", "5s"); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if err := <-callbackErr; err != nil {
			t.Fatalf("callback request failed: %v", err)
		}
		if !strings.Contains(env.output.String(), "✓ Authorization successful") {
			t.Errorf("unexpected output %q", env.output.String())
		}

		if err := env.run(t, "auth", "users", "--json"); err != nil {
			t.Fatalf("users failed: %v", err)
		}
		var accounts []map[string]any
		if err := json.Unmarshal(env.output.Bytes(), &accounts); err != nil {
			t.Fatalf("invalid JSON %q: %v", env.output.String(), err)
		}
		if len(accounts) != 1 || accounts[0]["provider_id"] != "sp-user" {
			t.Errorf("unexpected accounts %v", accounts)
		}
		if strings.Contains(env.output.String(), "access-abc") {
			t.Error("tokens must not be printed")
		}
	})

	t.Run("login requires credentials", func(t *testing.T) {
		env := newCLIEnv(t)
		env.runner.oauth.ClientSecret = ""
		if err := env.run(t, "auth", "login"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected missing credentials, got %v", err)
		}
	})

	t.Run("no stored accounts", func(t *testing.T) {
		env := newCLIEnv(t)
		if err := env.run(t, "auth", "users"); err != nil {
			t.Fatalf("users failed: %v", err)
		}
		if !strings.Contains(env.output.String(), "No stored accounts") {
			t.Errorf("unexpected output %q", env.output.String())
		}
	})
}
