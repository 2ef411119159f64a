package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeilG112/LocalLoop/apperr"
	"github.com/NeilG112/LocalLoop/discovery"
	"github.com/NeilG112/LocalLoop/store"
)

type discoverResponse struct {
	Candidates []publicProfile `json:"candidates"`
}

func candidateIDs(resp discoverResponse) []string {
	out := make([]string, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		out = append(out, c.ID)
	}
	return out
}

func TestDiscover(t *testing.T) {
	_, h := newTestApp(t)
	host := createProfiledUser(t, h, "host@example.com", "Host", store.RoleHost, berlinLat, berlinLng)
	potsdam := createProfiledUser(t, h, "potsdam@example.com", "Potsdam", store.RoleVisitor, potsdamLat, potsdamLng)
	munich := createProfiledUser(t, h, "munich@example.com", "Munich", store.RoleVisitor, munichLat, munichLng)
	createProfiledUser(t, h, "otherhost@example.com", "Other host", store.RoleHost, berlinLat, berlinLng)

	t.Run("Profile required", func(t *testing.T) {
		bare := createTestUser(t, h, "bare@example.com")
		rr := doRequest(t, h, http.MethodGet, "/discover", bare.Token, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "incomplete_profile", decodeBody[map[string]string](t, rr)["error"])
	})

	t.Run("Saved radius applies by default", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodGet, "/discover", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		resp := decodeBody[discoverResponse](t, rr)
		assert.Equal(t, []string{potsdam.ID}, candidateIDs(resp))
		require.NotNil(t, resp.Candidates[0].DistanceKm)
		assert.InDelta(t, 27.0, *resp.Candidates[0].DistanceKm, 2.0)
		assert.Equal(t, "27km away", resp.Candidates[0].Distance)
	})

	t.Run("Query overrides", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodGet, "/discover?max_distance=1000", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{potsdam.ID, munich.ID}, candidateIDs(decodeBody[discoverResponse](t, rr)))

		rr = doRequest(t, h, http.MethodGet, "/discover?max_distance=1000&gender=male", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decodeBody[discoverResponse](t, rr).Candidates)

		rr = doRequest(t, h, http.MethodGet, "/discover?max_distance=1000&languages=Chinese,Japanese", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decodeBody[discoverResponse](t, rr).Candidates)

		rr = doRequest(t, h, http.MethodGet, "/discover?max_distance=1000&languages=english&min_age=20&max_age=30", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeBody[discoverResponse](t, rr).Candidates, 2)
	})

	t.Run("Invalid filters", func(t *testing.T) {
		for _, q := range []string{"min_age=abc", "max_distance=-5", "min_age=40&max_age=30", "gender=robot"} {
			rr := doRequest(t, h, http.MethodGet, "/discover?"+q, host.Token, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code, q)
			assert.Equal(t, "invalid_filters", decodeBody[map[string]string](t, rr)["error"], q)
		}
	})

	t.Run("Swiped candidates disappear", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodPost, "/swipes/"+potsdam.ID, host.Token, map[string]string{"type": "dislike"})
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doRequest(t, h, http.MethodGet, "/discover?max_distance=1000", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{munich.ID}, candidateIDs(decodeBody[discoverResponse](t, rr)))
	})

	t.Run("Blocked candidates disappear", func(t *testing.T) {
		rr := doRequest(t, h, http.MethodPost, "/me/blocks/"+host.ID, munich.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doRequest(t, h, http.MethodGet, "/discover?max_distance=1000", host.Token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decodeBody[discoverResponse](t, rr).Candidates)
	})
}

type unavailableStore struct{ *store.Memory }

func (unavailableStore) GetProfilesByRole(_ context.Context, _ store.Role, _ int) ([]store.Profile, error) {
	return nil, apperr.Unavailable("get profiles by role", errors.New("connection reset"))
}

func TestDiscoverStoreUnavailable(t *testing.T) {
	a, h := newTestApp(t)
	host := createProfiledUser(t, h, "host@example.com", "Host", store.RoleHost, berlinLat, berlinLng)
	a.discovery = discovery.New(unavailableStore{a.store.(*store.Memory)})

	rr := doRequest(t, h, http.MethodGet, "/discover", host.Token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "discovery_unavailable", decodeBody[map[string]string](t, rr)["error"])
}

func TestFiltersFromQuery(t *testing.T) {
	me := &store.Profile{Preferences: store.Preferences{RadiusKm: 20, AgeRange: store.AgeRange{Min: 25, Max: 35}}}

	req := httptest.NewRequest(http.MethodGet, "/discover", nil)
	f, err := filtersFromQuery(req, me)
	require.NoError(t, err)
	assert.Equal(t, 20.0, f.MaxDistanceKm)
	assert.Equal(t, store.AgeRange{Min: 25, Max: 35}, f.AgeRange)
	assert.Equal(t, store.GenderAny, f.Gender)

	req = httptest.NewRequest(http.MethodGet, "/discover?min_age=30&max_distance=5.5&gender=female&languages=German,%20Chinese&interests=tea", nil)
	f, err = filtersFromQuery(req, me)
	require.NoError(t, err)
	assert.Equal(t, 30, f.AgeRange.Min)
	assert.Equal(t, 35, f.AgeRange.Max)
	assert.Equal(t, 5.5, f.MaxDistanceKm)
	assert.Equal(t, store.GenderPrefFemale, f.Gender)
	assert.Equal(t, []string{"German", "Chinese"}, f.Languages)
	assert.Equal(t, []string{"tea"}, f.Interests)
}
