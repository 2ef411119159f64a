package main

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeilG112/LocalLoop/store"
)

func TestMeProfile(t *testing.T) {
	_, h := newTestApp(t)
	u := createTestUser(t, h, "me@example.com")

	t.Run("Incomplete until the profile is saved", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodGet, "/me", u.Token, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "incomplete_profile", decodeBody[map[string]string](t, rr)["error"])
	})

	t.Run("Requires a token", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodGet, "/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Saving derives the geohash", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodPut, "/me/profile", u.Token, profileBody("Lena", store.RoleHost, berlinLat, berlinLng))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		saved := decodeBody[store.Profile](t, rr)
		assert.Equal(t, u.ID, saved.ID)
		assert.Equal(t, "u33dc0cpp", saved.Location.Geohash)

		rr = doRequest(t, h, http.MethodGet, "/me", u.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		me := decodeBody[store.Profile](t, rr)
		assert.Equal(t, "Lena", me.Name)
		assert.Equal(t, store.RoleHost, me.Role)
	})

	t.Run("Invalid profile", func(t *testing.T) {
		body := profileBody("Young", store.RoleHost, berlinLat, berlinLng)
		body["age"] = 16
		rr := doRequest(t, h, http.MethodPut, "/me/profile", u.Token, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "invalid_request", decodeBody[map[string]string](t, rr)["error"])

		body = profileBody("Nobody", "tourist", berlinLat, berlinLng)
		rr = doRequest(t, h, http.MethodPut, "/me/profile", u.Token, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Blocked users cannot be set through the profile", func(t *testing.T) {
		body := profileBody("Lena", store.RoleHost, berlinLat, berlinLng)
		body["blocked_users"] = []string{"someone"}
		rr := doRequest(t, h, http.MethodPut, "/me/profile", u.Token, body)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decodeBody[store.Profile](t, rr).BlockedUsers)
	})
}

func TestUserProfile(t *testing.T) {
	_, h := newTestApp(t)
	host := createProfiledUser(t, h, "host@example.com", "Host", store.RoleHost, berlinLat, berlinLng)
	visitor := createProfiledUser(t, h, "visitor@example.com", "Visitor", store.RoleVisitor, potsdamLat, potsdamLng)

	t.Run("Public view with distance", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodGet, "/users/"+visitor.ID+"/profile", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		got := decodeBody[map[string]any](t, rr)
		assert.Equal(t, "Visitor", got["name"])
		assert.NotContains(t, got, "blocked_users")
		assert.NotContains(t, got, "location")
		assert.InDelta(t, 27.0, got["distance_km"], 2.0)
		assert.Equal(t, "Berlin", got["city"])
	})

	t.Run("Unknown user", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodGet, "/users/nobody/profile", host.Token, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Blocking hides the profile both ways", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodPost, "/me/blocks/"+visitor.ID, host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doRequest(t, h, http.MethodGet, "/users/"+visitor.ID+"/profile", host.Token, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		rr = doRequest(t, h, http.MethodGet, "/users/"+host.ID+"/profile", visitor.Token, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = doRequest(t, h, http.MethodDelete, "/me/blocks/"+visitor.ID, host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"blocked":false}`, rr.Body.String())

		rr = doRequest(t, h, http.MethodGet, "/users/"+host.ID+"/profile", visitor.Token, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestBlockHandler(t *testing.T) {
	_, h := newTestApp(t)
	u := createProfiledUser(t, h, "blocker@example.com", "Blocker", store.RoleHost, berlinLat, berlinLng)
	bare := createTestUser(t, h, "bare@example.com")

	rr := doRequest(t, h, http.MethodPost, "/me/blocks/"+u.ID, u.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_target", decodeBody[map[string]string](t, rr)["error"])

	rr = doRequest(t, h, http.MethodPost, "/me/blocks/"+u.ID, bare.Token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "incomplete_profile", decodeBody[map[string]string](t, rr)["error"])

	rr = doRequest(t, h, http.MethodPost, "/me/blocks/someone", u.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doRequest(t, h, http.MethodGet, "/me", u.Token, nil)
	assert.Equal(t, []string{"someone"}, decodeBody[store.Profile](t, rr).BlockedUsers)
}
