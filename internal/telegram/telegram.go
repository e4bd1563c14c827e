// Package telegram wraps the two Bot API calls the server needs: muting
// and unmuting a member of a chat group via restrictChatMember.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

type Client struct {
	apiBase string
	http    *http.Client
}

// New builds a client. apiBase overrides the Bot API host, which tests
// use to point at a local server; empty means the production host.
func New(apiBase string, timeout time.Duration) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		apiBase: apiBase,
		http:    &http.Client{Timeout: timeout},
	}
}

// chatPermissions mirrors the Bot API object of the same name. Only the
// fields the server toggles are sent.
type chatPermissions struct {
	CanSendMessages      bool `json:"can_send_messages"`
	CanSendPhotos        bool `json:"can_send_photos"`
	CanSendVideos        bool `json:"can_send_videos"`
	CanSendOtherMessages bool `json:"can_send_other_messages"`
	CanAddWebPagePreview bool `json:"can_add_web_page_previews"`
}

func (c *Client) Unmute(ctx context.Context, botToken, chatGroupID, chatUserID string) error {
	return c.restrict(ctx, botToken, chatGroupID, chatUserID, chatPermissions{
		CanSendMessages:      true,
		CanSendPhotos:        true,
		CanSendVideos:        true,
		CanSendOtherMessages: true,
		CanAddWebPagePreview: true,
	})
}

func (c *Client) Mute(ctx context.Context, botToken, chatGroupID, chatUserID string) error {
	return c.restrict(ctx, botToken, chatGroupID, chatUserID, chatPermissions{})
}

func (c *Client) restrict(ctx context.Context, botToken, chatGroupID, chatUserID string, perms chatPermissions) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":     chatGroupID,
		"user_id":     chatUserID,
		"permissions": perms,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/restrictChatMember", c.apiBase, botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram: %s", result.Description)
	}
	return nil
}
