package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// blueskyRecord mirrors the atproto feed post record; normalized before it
// leaves this package.
type blueskyRecord struct {
	URI    string `json:"uri"`
	Author struct {
		DID string `json:"did"`
	} `json:"author"`
	Record struct {
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"createdAt"`
	} `json:"record"`
	Embed struct {
		External struct {
			URI string `json:"uri"`
		} `json:"external"`
	} `json:"embed"`
}

type BlueskyAdapter struct {
	baseURL    string
	credential Credential
	httpClient *http.Client
}

func NewBlueskyAdapter(baseURL string, cred Credential) *BlueskyAdapter {
	return &BlueskyAdapter{
		baseURL:    baseURL,
		credential: cred,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *BlueskyAdapter) ID() ID { return Bluesky }

func (a *BlueskyAdapter) Publish(ctx context.Context, content, mediaURL string) (string, error) {
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      content,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if mediaURL != "" {
		record["embed"] = map[string]any{
			"$type":    "app.bsky.embed.external",
			"external": map[string]any{"uri": mediaURL},
		}
	}
	b, _ := json.Marshal(map[string]any{
		"collection": "app.bsky.feed.post",
		"record":     record,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/xrpc/com.atproto.repo.createRecord", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.credential.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(Bluesky, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(Bluesky, resp.StatusCode)
	}

	var out struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bluesky: decode createRecord response: %w", ErrUnavailable)
	}
	return out.URI, nil
}

func (a *BlueskyAdapter) Fetch(ctx context.Context, userID, cursor string) ([]RemotePost, error) {
	u := fmt.Sprintf("%s/xrpc/app.bsky.feed.getAuthorFeed?actor=%s", a.baseURL, url.QueryEscape(userID))
	if cursor != "" {
		u += "&cursor=" + url.QueryEscape(cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.credential.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(Bluesky, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(Bluesky, resp.StatusCode)
	}

	var out struct {
		Feed []struct {
			Post blueskyRecord `json:"post"`
		} `json:"feed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bluesky: decode author feed: %w", ErrUnavailable)
	}

	posts := make([]RemotePost, 0, len(out.Feed))
	for _, item := range out.Feed {
		rec := item.Post
		posts = append(posts, RemotePost{
			Platform:  Bluesky,
			RemoteID:  rec.URI,
			AuthorID:  rec.Author.DID,
			Body:      rec.Record.Text,
			MediaURL:  rec.Embed.External.URI,
			CreatedAt: rec.Record.CreatedAt,
		})
	}
	return posts, nil
}

func (a *BlueskyAdapter) Delete(ctx context.Context, remoteID string) error {
	b, _ := json.Marshal(map[string]any{
		"collection": "app.bsky.feed.post",
		"uri":        remoteID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/xrpc/com.atproto.repo.deleteRecord", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.credential.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return classifyTransport(Bluesky, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return classifyStatus(Bluesky, resp.StatusCode)
}
