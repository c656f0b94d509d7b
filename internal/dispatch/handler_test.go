package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-engine/internal/platform"
	"sync-engine/internal/shared/httpx"
	"sync-engine/internal/shared/jwt"
)

func newTestServer(t *testing.T, fx *fixture) *httptest.Server {
	t.Helper()
	h := NewHandler(fx.d, fx.profiles)

	mux := http.NewServeMux()
	protect := func(pattern string, fn httpx.HandlerFunc) {
		mux.Handle(pattern, httpx.AuthMiddleware(httpx.Wrap(fn)))
	}
	protect("POST /crosspost", h.CrossPost)
	protect("GET /feed", h.Feed)
	protect("DELETE /posts/{id}", h.Delete)
	protect("PUT /privacy/profile", h.UpdateProfile)
	protect("POST /privacy/deletion", h.RequestDeletion)
	protect("POST /privacy/anonymize", h.Anonymize)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func authedRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	var r *http.Request
	var err error
	if body == "" {
		r, err = http.NewRequest(method, url, nil)
	} else {
		r, err = http.NewRequest(method, url, strings.NewReader(body))
	}
	require.NoError(t, err)

	tok, err := jwt.Sign("u1", time.Minute)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+tok)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestHandler_CrossPost(t *testing.T) {
	fx := newFixture(t, &fakeAdapter{id: platform.Mastodon})
	srv := newTestServer(t, fx)

	req := authedRequest(t, http.MethodPost, srv.URL+"/crosspost",
		`{"body":"hello","platforms":["mastodon"]}`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out CrossPostResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].OK)
	assert.NotEmpty(t, out.PostID)
}

func TestHandler_CrossPostRejectsEmptyBody(t *testing.T) {
	fx := newFixture(t, &fakeAdapter{id: platform.Mastodon})
	srv := newTestServer(t, fx)

	req := authedRequest(t, http.MethodPost, srv.URL+"/crosspost",
		`{"body":"  ","platforms":["mastodon"]}`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_MissingTokenUnauthorized(t *testing.T) {
	fx := newFixture(t, &fakeAdapter{id: platform.Mastodon})
	srv := newTestServer(t, fx)

	resp, err := http.Post(srv.URL+"/crosspost", "application/json",
		strings.NewReader(`{"body":"hello","platforms":["mastodon"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_Feed(t *testing.T) {
	at := time.Unix(1_600_000_000, 0).UTC()
	adapter := &fakeAdapter{id: platform.Mastodon, fetchPosts: []platform.RemotePost{
		feedPost(platform.Mastodon, "m1", at),
	}}
	fx := newFixture(t, adapter)
	srv := newTestServer(t, fx)

	req := authedRequest(t, http.MethodGet, srv.URL+"/feed?platforms=mastodon", "")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var feed Feed
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	require.Len(t, feed.Posts, 1)
	assert.Equal(t, "m1", feed.Posts[0].RemoteID)
}

func TestHandler_UpdateProfileSwitchesTier(t *testing.T) {
	fx := newFixture(t, &fakeAdapter{id: platform.Mastodon})
	srv := newTestServer(t, fx)

	req := authedRequest(t, http.MethodPut, srv.URL+"/privacy/profile",
		`{"tier":"elevated"}`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The next publish now demands a biometric sample.
	req = authedRequest(t, http.MethodPost, srv.URL+"/crosspost",
		`{"body":"hello","platforms":["mastodon"]}`)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = authedRequest(t, http.MethodPost, srv.URL+"/crosspost",
		`{"body":"hello","platforms":["mastodon"],"biometric":{"modality":"fingerprint","confidence":0.99}}`)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_AnonymizeStripsProfileAndDropsCache(t *testing.T) {
	at := time.Unix(1_600_000_000, 0).UTC()
	adapter := &fakeAdapter{id: platform.Mastodon, fetchPosts: []platform.RemotePost{
		feedPost(platform.Mastodon, "m1", at),
	}}
	fx := newFixture(t, adapter)
	srv := newTestServer(t, fx)
	ctx := context.Background()

	// Warm the cache so the hook has something to drop.
	_, err := fx.d.FetchAggregatedFeed(ctx, "u1", []platform.ID{platform.Mastodon}, nil)
	require.NoError(t, err)

	req := authedRequest(t, http.MethodPost, srv.URL+"/privacy/anonymize", "")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, err := fx.profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Anonymized)
	assert.True(t, p.AnonymousMode)

	feed, err := fx.d.FetchAggregatedFeed(ctx, "u1", []platform.ID{platform.Mastodon}, nil)
	require.NoError(t, err)
	assert.False(t, feed.FromCache)
}

func TestHandler_UpdateProfileRejectsUnknownTier(t *testing.T) {
	fx := newFixture(t, &fakeAdapter{id: platform.Mastodon})
	srv := newTestServer(t, fx)

	req := authedRequest(t, http.MethodPut, srv.URL+"/privacy/profile", `{"tier":"vip"}`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
