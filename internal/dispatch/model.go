package dispatch

import (
	"time"

	"sync-engine/internal/platform"
)

// Post is the immutable authored content unit. Edits supersede with a new
// Post; nothing mutates one after creation.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome codes carried on per-platform results.
const (
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "platform_unavailable"
	CodeRejected    = "platform_rejected"
	CodeAuthExpired = "auth_expired"
	CodeTimeout     = "platform_timeout"
	CodeNoAdapter   = "no_adapter"
)

// PublishResult is the per-platform outcome of one publish attempt.
// Immutable once produced.
type PublishResult struct {
	Platform  platform.ID   `json:"platform"`
	OK        bool          `json:"ok"`
	RemoteID  string        `json:"remote_id,omitempty"`
	ErrorCode string        `json:"error_code,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
}

// DeleteResult is the per-platform outcome of a cross-platform delete.
type DeleteResult struct {
	Platform  platform.ID `json:"platform"`
	OK        bool        `json:"ok"`
	Skipped   bool        `json:"skipped,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

// Feed is a decrypted aggregated feed, either straight from the cache or
// freshly fanned in.
type Feed struct {
	UserID    string                 `json:"user_id"`
	Posts     []platform.RemotePost  `json:"posts"`
	Errors    map[platform.ID]string `json:"errors,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
	FromCache bool                   `json:"from_cache"`
}

type CrossPostRequest struct {
	Body      string        `json:"body"`
	MediaURL  string        `json:"media_url,omitempty"`
	Platforms []platform.ID `json:"platforms"`

	// Biometric accompanies the call when the user's tier demands gating.
	Biometric *BiometricSample `json:"biometric,omitempty"`
}

type BiometricSample struct {
	Modality   string  `json:"modality"`
	Confidence float64 `json:"confidence"`
}

type CrossPostResponse struct {
	PostID  string          `json:"post_id"`
	Results []PublishResult `json:"results"`
}
