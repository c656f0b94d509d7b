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

// mastodonStatus is the platform-native post shape; it never leaves this file
// un-normalized.
type mastodonStatus struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Account   struct {
		ID string `json:"id"`
	} `json:"account"`
	MediaAttachments []struct {
		URL string `json:"url"`
	} `json:"media_attachments"`
}

type MastodonAdapter struct {
	baseURL    string
	credential Credential
	httpClient *http.Client
}

func NewMastodonAdapter(baseURL string, cred Credential) *MastodonAdapter {
	return &MastodonAdapter{
		baseURL:    baseURL,
		credential: cred,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *MastodonAdapter) ID() ID { return Mastodon }

func (a *MastodonAdapter) Publish(ctx context.Context, content, mediaURL string) (string, error) {
	body := map[string]any{"status": content}
	if mediaURL != "" {
		body["media_url"] = mediaURL
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v1/statuses", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.credential.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(Mastodon, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyStatus(Mastodon, resp.StatusCode)
	}

	var st mastodonStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return "", fmt.Errorf("mastodon: decode publish response: %w", ErrUnavailable)
	}
	return st.ID, nil
}

func (a *MastodonAdapter) Fetch(ctx context.Context, userID, cursor string) ([]RemotePost, error) {
	u := fmt.Sprintf("%s/api/v1/accounts/%s/statuses", a.baseURL, url.PathEscape(userID))
	if cursor != "" {
		u += "?max_id=" + url.QueryEscape(cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.credential.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(Mastodon, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(Mastodon, resp.StatusCode)
	}

	var statuses []mastodonStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, fmt.Errorf("mastodon: decode statuses: %w", ErrUnavailable)
	}

	posts := make([]RemotePost, 0, len(statuses))
	for _, st := range statuses {
		p := RemotePost{
			Platform:  Mastodon,
			RemoteID:  st.ID,
			AuthorID:  st.Account.ID,
			Body:      st.Content,
			CreatedAt: st.CreatedAt,
		}
		if len(st.MediaAttachments) > 0 {
			p.MediaURL = st.MediaAttachments[0].URL
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (a *MastodonAdapter) Delete(ctx context.Context, remoteID string) error {
	u := fmt.Sprintf("%s/api/v1/statuses/%s", a.baseURL, url.PathEscape(remoteID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.credential.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return classifyTransport(Mastodon, err)
	}
	defer resp.Body.Close()

	// 404 means already gone; delete is idempotent.
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return classifyStatus(Mastodon, resp.StatusCode)
}
