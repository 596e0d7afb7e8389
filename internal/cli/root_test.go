package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-live/qbox/config"
	"github.com/qbox-live/qbox/internal/auth"
	"github.com/qbox-live/qbox/internal/dispatch"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/internal/sandbox"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "qbox", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	commands := [][]string{
		{"watch"}, {"ask"}, {"upvote"}, {"report"}, {"answer"}, {"delete"}, {"restore"}, {"purge"},
		{"room", "create"}, {"room", "toggle"}, {"room", "close"},
		{"identity", "show"}, {"identity", "regenerate"}, {"identity", "logout"},
	}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)

	for name, def := range map[string]string{"verbose": "false", "format": "text", "api": "", "token": "", "room": ""} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, def, flag.DefValue, name)
	}
	assert.Equal(t, "r", cmd.PersistentFlags().Lookup("room").Shorthand)
}

type harness struct {
	t    *testing.T
	opts *RootOptions
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(sandbox.NewRouter(sandbox.Options{JWT: auth.NewJWTService("test-secret", 1)}))
	t.Cleanup(srv.Close)

	base := srv.URL + "/api"
	cfg := &config.Config{
		API: config.APIConfig{BaseURL: base, WSURL: config.WebsocketURL(base), Timeout: 5 * time.Second},
		Realtime: config.RealtimeConfig{
			MinDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, MaxAttempts: 3, ResyncOnReconnect: true,
		},
		Identity: config.IdentityConfig{Store: config.StoreMemory, DeviceID: "test-device"},
	}
	return &harness{t: t, opts: &RootOptions{Config: cfg}}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	cmd := newRootCommand(h.opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run("", args...)
	require.NoError(h.t, err, out)
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)

	created := decode[createdRoom](t, h.mustRun("room", "create", "--lecturer", "Dr. Ada", "--format", "json"))
	require.NotEmpty(t, created.Token)
	code := created.Room.Code
	token := created.Token

	q := decode[models.Question](t, h.mustRun("ask", "--room", code, "--format", "json", "What", "is", "a", "monad?"))
	assert.Equal(t, "What is a monad?", q.Text)
	assert.True(t, q.IsMine)

	feed := h.mustRun("watch", "--room", code, "--once")
	assert.Contains(t, feed, "Room "+code+"  Dr. Ada's Q&A")
	assert.Contains(t, feed, "[pending] What is a monad?")
	assert.Contains(t, feed, "(you)")

	assert.Contains(t, h.mustRun("upvote", "--room", code, q.ID), "Upvoted "+q.ID+" (1)")
	_, err := h.run("", "upvote", "--room", code, q.ID)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	// Declined prompt: nothing is sent.
	_, err = h.run("n\n", "delete", "--room", code, "--token", token, q.ID)
	assert.Equal(t, ExitCancelled, GetExitCode(err))
	assert.ErrorIs(t, err, dispatch.ErrNotConfirmed)

	h.mustRun("delete", "--room", code, "--token", token, "--yes", q.ID)
	assert.Contains(t, h.mustRun("watch", "--room", code, "--once"), "No questions here yet.")
	deleted := h.mustRun("watch", "--room", code, "--token", token, "--once", "--filter", "rejected")
	assert.Contains(t, deleted, "[rejected] What is a monad?")

	assert.Contains(t, h.mustRun("purge", "--room", code, "--token", token, "-y", q.ID), "Purged "+q.ID)

	out, err := h.run("yes\n", "room", "close", "--room", code, "--token", token)
	require.NoError(t, err, out)
	_, err = h.run("", "ask", "--room", code, "too late")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParticipantCannotModerate(t *testing.T) {
	h := newHarness(t)
	created := decode[createdRoom](t, h.mustRun("room", "create", "--format", "json"))
	code := created.Room.Code
	assert.True(t, strings.HasPrefix(created.Room.Name, "Lecturer "))

	q := decode[models.Question](t, h.mustRun("ask", "--room", code, "--format", "json", "hello"))

	_, err := h.run("", "answer", "--room", code, q.ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = h.run("", "watch", "--room", code, "--once", "--filter", "rejected")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = h.run("", "report", "--room", code, "--reason", "boring", q.ID)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, h.mustRun("report", "--room", code, "--reason", "off-topic", q.ID), "Off-topic")
}

func TestIdentityCommands(t *testing.T) {
	h := newHarness(t)

	first := decode[map[string]string](t, h.mustRun("identity", "show", "--format", "json"))["tag"]
	assert.Regexp(t, `^[A-Za-z]+#\d{4}$`, first)
	assert.Equal(t, first+"\n", h.mustRun("identity", "show"))

	_, err := h.run("\n", "identity", "regenerate")
	assert.Equal(t, ExitCancelled, GetExitCode(err))

	next := decode[map[string]string](t, h.mustRun("identity", "regenerate", "--yes", "--format", "json"))["tag"]
	assert.NotEqual(t, first, next)

	h.mustRun("identity", "logout", "--yes")
	assert.NotEqual(t, next+"\n", h.mustRun("identity", "show"))
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "identity", "show", "--format", "yaml")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
