package snapshot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-live/qbox/internal/api"
	"github.com/qbox-live/qbox/internal/models"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *api.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL+"/api", time.Second, nil)
}

func TestLoader_NormalizesRecords(t *testing.T) {
	body := `{"success":true,"data":[
		{"_id":"2","questionText":"Second","studentTag":"Owl#1000","upvotes":3,"status":"answered","answer":"yes","createdAt":"2026-03-02T09:05:00Z"},
		{"_id":"1","questionText":"First","studentTag":"Fox#2000","upvotes":-1,"isReported":true,"createdAt":"2026-03-02T09:00:00Z"},
		{"_id":"1","questionText":"First again","studentTag":"Fox#2000"},
		{"questionText":"no id"}
	]}`
	client := serve(t, http.StatusOK, body, func(r *http.Request) {
		assert.Equal(t, "/api/questions/room/room-1", r.URL.Path)
		assert.Equal(t, "Owl#1000", r.URL.Query().Get("studentTag"))
		assert.Empty(t, r.URL.Query().Get("includeRejected"))
	})

	qs, err := NewLoader(client, nil).Load(context.Background(), "room-1", "Owl#1000", false)
	require.NoError(t, err)
	require.Len(t, qs, 2)

	assert.Equal(t, "2", qs[0].ID)
	assert.True(t, qs[0].IsMine)
	assert.Equal(t, models.StatusAnswered, qs[0].Status)
	assert.Equal(t, "yes", qs[0].AnswerText)

	assert.Equal(t, "1", qs[1].ID)
	assert.False(t, qs[1].IsMine)
	assert.Equal(t, models.StatusPending, qs[1].Status)
	assert.Zero(t, qs[1].Upvotes)
	assert.True(t, qs[1].IsReported)
}

func TestLoader_IncludeRejected(t *testing.T) {
	body := `{"success":true,"data":[
		{"_id":"1","questionText":"kept","status":"rejected"},
		{"_id":"2","questionText":"live","status":"pending"}
	]}`
	client := serve(t, http.StatusOK, body, func(r *http.Request) {
		if r.URL.Query().Get("includeRejected") != "true" {
			return
		}
		assert.Empty(t, r.URL.Query().Get("studentTag"))
	})
	loader := NewLoader(client, nil)

	qs, err := loader.Load(context.Background(), "room-1", "", true)
	require.NoError(t, err)
	assert.Len(t, qs, 2)

	qs, err = loader.Load(context.Background(), "room-1", "", false)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "2", qs[0].ID)
}

func TestLoader_ServerErrorIsLoadFailure(t *testing.T) {
	client := serve(t, http.StatusNotFound, `{"success":false,"message":"Room not found"}`, nil)

	_, err := NewLoader(client, nil).Load(context.Background(), "room-1", "", false)

	var failure *LoadFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "Room not found", failure.Cause)
	var httpErr *api.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestLoader_UnsuccessfulEnvelopeIsLoadFailure(t *testing.T) {
	client := serve(t, http.StatusOK, `{"success":false}`, nil)

	_, err := NewLoader(client, nil).Load(context.Background(), "room-1", "", false)

	var failure *LoadFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "server answered 200", failure.Cause)
}

func TestLoader_NetworkErrorIsLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := api.NewClient(srv.URL+"/api", time.Second, nil)

	_, err := NewLoader(client, nil).Load(context.Background(), "room-1", "", false)

	var failure *LoadFailure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Cause, "cannot reach server")
}
