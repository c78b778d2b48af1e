package app

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis-iam/internal/shared"
)

func sessionTestHandler(t *testing.T, logger *slog.Logger, inner http.HandlerFunc) (*miniredis.Miniredis, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	manager := shared.NewSessionManager(client, "aegis_session", time.Hour, false)

	stack := MiddlewareStack(MiddlewareConfig{Logger: logger, SessionManager: manager})
	handler := http.Handler(inner)
	for i := len(stack) - 1; i >= 0; i-- {
		handler = stack[i](handler)
	}
	return mr, handler
}

func TestSessionCommittedBeforeResponse(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mr, handler := sessionTestHandler(t, logger, func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		require.NotNil(t, sess)
		sess.SetUser("alice")
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "aegis_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	stored, err := mr.Get("session:" + cookie.Value)
	require.NoError(t, err)
	require.Contains(t, stored, "alice")
}

func TestSessionCommitFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	var mr *miniredis.Miniredis
	store, handler := sessionTestHandler(t, logger, func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		require.NotNil(t, sess)
		sess.SetUser("alice")
		// Session store goes away before the response is written.
		mr.Close()
		w.WriteHeader(http.StatusOK)
	})
	mr = store

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Contains(t, logs.String(), "failed to commit session")
}
