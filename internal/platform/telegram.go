package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// telegramMessage is the bot-API message shape, normalized into RemotePost
// before leaving this package.
type telegramMessage struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Date      int64  `json:"date"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

type TelegramAdapter struct {
	baseURL    string
	credential Credential
	httpClient *http.Client
}

func NewTelegramAdapter(baseURL string, cred Credential) *TelegramAdapter {
	return &TelegramAdapter{
		baseURL:    baseURL,
		credential: cred,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *TelegramAdapter) ID() ID { return Telegram }

func (a *TelegramAdapter) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.credential.Token, method)
}

func (a *TelegramAdapter) Publish(ctx context.Context, content, mediaURL string) (string, error) {
	text := content
	if mediaURL != "" {
		text = content + "\n" + mediaURL
	}
	b, _ := json.Marshal(map[string]any{"text": text})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL("sendMessage"), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(Telegram, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(Telegram, resp.StatusCode)
	}

	var out struct {
		OK     bool            `json:"ok"`
		Result telegramMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.OK {
		return "", fmt.Errorf("telegram: decode sendMessage response: %w", ErrUnavailable)
	}
	return strconv.FormatInt(out.Result.MessageID, 10), nil
}

func (a *TelegramAdapter) Fetch(ctx context.Context, userID, cursor string) ([]RemotePost, error) {
	u := a.apiURL("getChatHistory") + "?chat_id=" + url.QueryEscape(userID)
	if cursor != "" {
		u += "&offset_id=" + url.QueryEscape(cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(Telegram, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(Telegram, resp.StatusCode)
	}

	var out struct {
		OK     bool              `json:"ok"`
		Result []telegramMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.OK {
		return nil, fmt.Errorf("telegram: decode history: %w", ErrUnavailable)
	}

	posts := make([]RemotePost, 0, len(out.Result))
	for _, m := range out.Result {
		posts = append(posts, RemotePost{
			Platform:  Telegram,
			RemoteID:  strconv.FormatInt(m.MessageID, 10),
			AuthorID:  strconv.FormatInt(m.Chat.ID, 10),
			Body:      m.Text,
			CreatedAt: time.Unix(m.Date, 0).UTC(),
		})
	}
	return posts, nil
}

func (a *TelegramAdapter) Delete(ctx context.Context, remoteID string) error {
	b, _ := json.Marshal(map[string]any{"message_id": remoteID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL("deleteMessage"), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return classifyTransport(Telegram, err)
	}
	defer resp.Body.Close()

	// Telegram answers 400 for a message that is already gone.
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return classifyStatus(Telegram, resp.StatusCode)
}
