package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.Notify(context.Background(), "ops@example.com", "drill"))
	require.Equal(t, "ops@example.com", got["contact"])
	require.Equal(t, "drill", got["message"])
	require.NotEmpty(t, got["timestamp"])
}

func TestWebhookNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Notify(context.Background(), "ops@example.com", "drill")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.Code)
}

func TestWebhookNotifierUnreachable(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1/never")
	require.Error(t, n.Notify(context.Background(), "ops@example.com", "drill"))
}

func TestLogNotifierNeverFails(t *testing.T) {
	require.NoError(t, LogNotifier{}.Notify(context.Background(), "ops@example.com", "drill"))
}
