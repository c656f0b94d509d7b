package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func blueskyServer(t *testing.T, handler http.HandlerFunc) *BlueskyAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBlueskyAdapter(srv.URL, Credential{Token: "tok"})
}

func TestBlueskyPublish(t *testing.T) {
	a := blueskyServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.repo.createRecord", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:abc/app.bsky.feed.post/3k"}`))
	})

	id, err := a.Publish(context.Background(), "hello", "https://cdn/a.png")
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3k", id)
}

func TestBlueskyFetch_NormalizesFeed(t *testing.T) {
	a := blueskyServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/app.bsky.feed.getAuthorFeed", r.URL.Path)
		assert.Equal(t, "did:plc:abc", r.URL.Query().Get("actor"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"feed":[
			{"post":{"uri":"at://x/1","author":{"did":"did:plc:abc"},
			 "record":{"text":"hi","createdAt":"2024-05-01T10:00:00Z"},
			 "embed":{"external":{"uri":"https://cdn/b.png"}}}}
		]}`))
	})

	posts, err := a.Fetch(context.Background(), "did:plc:abc", "")
	require.NoError(t, err)
	require.Len(t, posts, 1)

	p := posts[0]
	assert.Equal(t, Bluesky, p.Platform)
	assert.Equal(t, "at://x/1", p.RemoteID)
	assert.Equal(t, "did:plc:abc", p.AuthorID)
	assert.Equal(t, "hi", p.Body)
	assert.Equal(t, "https://cdn/b.png", p.MediaURL)
	assert.Equal(t, mustTime(t, "2024-05-01T10:00:00Z"), p.CreatedAt)
}

func TestBlueskyDelete_IdempotentOnMissing(t *testing.T) {
	a := blueskyServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, a.Delete(context.Background(), "at://x/1"))
}
