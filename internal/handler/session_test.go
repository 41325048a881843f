package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegalaid/session-server-go/internal/model"
	"github.com/openlegalaid/session-server-go/internal/store"
)

func newMemoryHandler(t *testing.T) *httptest.Server {
	t.Helper()
	sessions := store.NewMemoryStore(store.Config{
		SessionTimeout:  time.Hour,
		CleanupInterval: time.Minute,
	})
	h := NewSessionHandler(sessions, nil, 1<<20)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func newEncryptedHandler(t *testing.T) *httptest.Server {
	t.Helper()
	encrypted, err := store.NewEncryptedStore(store.Config{
		SessionTimeout:  time.Hour,
		CleanupInterval: time.Minute,
	}, t.TempDir(), "handler-test-secret")
	require.NoError(t, err)

	h := NewSessionHandler(encrypted, encrypted, 1<<20)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func createSession(t *testing.T, srv *httptest.Server) model.Session {
	t.Helper()
	resp, err := http.Post(srv.URL+"/", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session model.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	require.NotEmpty(t, session.ID)
	return session
}

func doRequest(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("create get update end round trip", func(t *testing.T) {
		srv := newMemoryHandler(t)
		session := createSession(t, srv)

		update := []byte(`{"userContext":{"preferredLanguage":"es"}}`)
		resp := doRequest(t, http.MethodPatch, srv.URL+"/"+session.ID, update)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		update = []byte(`{"userContext":{"legalIssueType":"tenant_rights"}}`)
		resp = doRequest(t, http.MethodPatch, srv.URL+"/"+session.ID, update)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, srv.URL+"/"+session.ID, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got model.Session
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, "es", got.UserContext.PreferredLanguage)
		assert.Equal(t, model.IssueTenantRights, got.UserContext.LegalIssueType)

		resp = doRequest(t, http.MethodDelete, srv.URL+"/"+session.ID, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, srv.URL+"/"+session.ID, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		srv := newMemoryHandler(t)

		resp := doRequest(t, http.MethodGet, srv.URL+"/no-such-session", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
	})

	t.Run("invalid update is 400 and does not mutate", func(t *testing.T) {
		srv := newMemoryHandler(t)
		session := createSession(t, srv)

		update := []byte(`{"userContext":{"urgency":"panic"}}`)
		resp := doRequest(t, http.MethodPatch, srv.URL+"/"+session.ID, update)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "VALIDATION_ERROR", body["code"])

		getResp := doRequest(t, http.MethodGet, srv.URL+"/"+session.ID, nil)
		defer getResp.Body.Close()
		var got model.Session
		require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
		assert.Empty(t, got.UserContext.Urgency)
	})

	t.Run("malformed JSON body is 400", func(t *testing.T) {
		srv := newMemoryHandler(t)
		session := createSession(t, srv)

		resp := doRequest(t, http.MethodPatch, srv.URL+"/"+session.ID, []byte("{nope"))
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAudioEndpoints(t *testing.T) {
	t.Run("upload download delete round trip", func(t *testing.T) {
		srv := newEncryptedHandler(t)
		session := createSession(t, srv)
		base := fmt.Sprintf("%s/%s/audio/clip1", srv.URL, session.ID)

		resp := doRequest(t, http.MethodPost, base, []byte("abc"))
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, base, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var buf bytes.Buffer
		_, err := buf.ReadFrom(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "abc", buf.String())

		resp = doRequest(t, http.MethodDelete, base, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body["deleted"])

		resp = doRequest(t, http.MethodGet, base, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("audio is disabled on the memory backend", func(t *testing.T) {
		srv := newMemoryHandler(t)
		session := createSession(t, srv)

		resp := doRequest(t, http.MethodPost, fmt.Sprintf("%s/%s/audio/clip1", srv.URL, session.ID), []byte("abc"))
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("oversized upload is rejected", func(t *testing.T) {
		encrypted, err := store.NewEncryptedStore(store.Config{
			SessionTimeout:  time.Hour,
			CleanupInterval: time.Minute,
		}, t.TempDir(), "handler-test-secret")
		require.NoError(t, err)

		h := NewSessionHandler(encrypted, encrypted, 8)
		srv := httptest.NewServer(h.Routes())
		t.Cleanup(srv.Close)

		session := createSession(t, srv)
		resp := doRequest(t, http.MethodPost, fmt.Sprintf("%s/%s/audio/clip1", srv.URL, session.ID), []byte("way more than eight bytes"))
		resp.Body.Close()
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestPrivacyEndpoint(t *testing.T) {
	srv := newEncryptedHandler(t)
	session := createSession(t, srv)

	update := []byte(`{"turns":[{"userInput":"call me at 555-123-4567","systemResponse":"ok","confidence":0.9}]}`)
	resp := doRequest(t, http.MethodPatch, srv.URL+"/"+session.ID, update)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/"+session.ID+"/privacy", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report store.PrivacyReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.True(t, report.EncryptedAtRest)
	assert.True(t, report.PIIAnonymized)
	assert.Equal(t, 1, report.AnonymizedItems)
	assert.Equal(t, 1, report.ConversationTurns)
}
