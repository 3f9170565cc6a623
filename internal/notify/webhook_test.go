package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_PostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, time.Second)
	require.True(t, hook.Enabled())
	err := hook.Notify(context.Background(), Event{
		JobID:     "abc",
		Profile:   "naturelovers",
		Processed: 4,
		Archive:   "/data/jobs/abc/naturelovers_processed.zip",
	})
	require.NoError(t, err)

	ev := <-received
	assert.Equal(t, EventJobSucceeded, ev.Event)
	assert.Equal(t, "naturelovers", ev.Profile)
	assert.Equal(t, 4, ev.Processed)
}

func TestWebhook_ReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), Event{JobID: "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "nope")
}

func TestWebhook_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, 50*time.Millisecond).Notify(context.Background(), Event{JobID: "abc"})
	require.Error(t, err)
}

func TestWebhook_EmptyURLIsNoop(t *testing.T) {
	hook := NewWebhook("  ", 0)
	assert.False(t, hook.Enabled())
	assert.NoError(t, hook.Notify(context.Background(), Event{JobID: "abc"}))

	var nilHook *Webhook
	assert.NoError(t, nilHook.Notify(context.Background(), Event{}))
}
