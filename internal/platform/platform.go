package platform

import (
	"context"
	"time"
)

type ID string

const (
	Mastodon ID = "mastodon"
	Bluesky  ID = "bluesky"
	Telegram ID = "telegram"
)

// RemotePost is the canonical shape every adapter normalizes into before
// a post crosses the engine boundary.
type RemotePost struct {
	Platform  ID        `json:"platform"`
	RemoteID  string    `json:"remote_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential is a short-lived token handle. The engine treats it as opaque
// beyond validity.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && (c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt))
}

// Adapter is the uniform capability surface over one external platform.
// Implementations hold no durable state beyond the credential handle.
type Adapter interface {
	ID() ID

	// Publish posts content and returns the remote post id.
	Publish(ctx context.Context, content, mediaURL string) (string, error)

	// Fetch returns one finite page of the user's posts, newest first.
	Fetch(ctx context.Context, userID, cursor string) ([]RemotePost, error)

	// Delete removes a remote post. Deleting an already-deleted post
	// succeeds silently.
	Delete(ctx context.Context, remoteID string) error
}
