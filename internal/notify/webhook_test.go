package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(srv.URL)
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), "Approval required", "please review"))

	assert.Equal(t, "Approval required", got["title"])
	assert.Equal(t, "please review", got["body"])
	assert.Equal(t, "agentcron", got["source"])
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(srv.URL)
	require.NoError(t, err)
	require.Error(t, n.Send(context.Background(), "t", "b"))
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier("")
	require.Error(t, err)
}

type failingNotifier struct{ err error }

func (f failingNotifier) Send(ctx context.Context, title, body string) error { return f.err }

func TestMultiNotifierTriesAll(t *testing.T) {
	var sent int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent++
	}))
	defer srv.Close()

	webhook, err := NewWebhookNotifier(srv.URL)
	require.NoError(t, err)

	boom := errors.New("boom")
	multi := NewMultiNotifier(failingNotifier{err: boom}, webhook)
	err = multi.Send(context.Background(), "t", "b")
	// The failure is reported but the second notifier still ran.
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sent)
}
