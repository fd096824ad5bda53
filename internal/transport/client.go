package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client is an HTTP client for a Telegram-style Bot API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	botID int64
}

// NewClient builds a client for the given API base URL and bot token. The
// relay engine imposes no timeouts of its own, so the client does.
func NewClient(apiURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/") + "/bot" + token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return mapAPIError(method, envelope.Description)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// mapAPIError translates the platform's free-text error descriptions into
// the sentinel errors the engine branches on.
func mapAPIError(method, description string) error {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "chat not found"):
		return ErrChatNotFound
	case strings.Contains(lower, "message thread not found"):
		return ErrThreadNotFound
	case strings.Contains(lower, "can't be copied"):
		return ErrContentNotMirrorable
	default:
		return fmt.Errorf("%s: %s", method, description)
	}
}

// GetChat reports whether the chat exists and whether it supports threads.
func (c *Client) GetChat(ctx context.Context, chatID int64) (ChatInfo, error) {
	var result struct {
		ID      int64  `json:"id"`
		Title   string `json:"title"`
		IsForum bool   `json:"is_forum"`
	}
	params := map[string]any{"chat_id": chatID}
	if err := c.call(ctx, "getChat", params, &result); err != nil {
		return ChatInfo{}, err
	}
	return ChatInfo{ID: result.ID, Title: result.Title, SupportsThreads: result.IsForum}, nil
}

// HasThreadManagementRights reports whether the bot may manage threads in
// the chat.
func (c *Client) HasThreadManagementRights(ctx context.Context, chatID int64) (bool, error) {
	botID, err := c.me(ctx)
	if err != nil {
		return false, err
	}
	var result struct {
		Status          string `json:"status"`
		CanManageTopics bool   `json:"can_manage_topics"`
	}
	params := map[string]any{"chat_id": chatID, "user_id": botID}
	if err := c.call(ctx, "getChatMember", params, &result); err != nil {
		return false, err
	}
	return result.CanManageTopics, nil
}

// CreateThread opens a new thread in the chat and returns its ID.
func (c *Client) CreateThread(ctx context.Context, chatID int64, title string) (int64, error) {
	var result struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	params := map[string]any{"chat_id": chatID, "name": title}
	if err := c.call(ctx, "createForumTopic", params, &result); err != nil {
		return 0, err
	}
	return result.MessageThreadID, nil
}

// MirrorMessage copies a message into the destination and returns the new
// message ID on that side.
func (c *Client) MirrorMessage(ctx context.Context, src MessageRef, dest Destination, opts MirrorOptions) (int64, error) {
	params := map[string]any{
		"chat_id":      dest.ChatID,
		"from_chat_id": src.ChatID,
		"message_id":   src.MessageID,
	}
	if dest.ThreadID != 0 {
		params["message_thread_id"] = dest.ThreadID
	}
	if opts.ReplyToID != 0 {
		params["reply_to_message_id"] = opts.ReplyToID
	}
	if opts.Supersedes {
		params["reply_markup"] = supersededMarker()
	}
	var result struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.call(ctx, "copyMessage", params, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// Notify sends a short text notice to the destination.
func (c *Client) Notify(ctx context.Context, dest Destination, text string) error {
	params := map[string]any{"chat_id": dest.ChatID, "text": text}
	if dest.ThreadID != 0 {
		params["message_thread_id"] = dest.ThreadID
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// SendMenu sends a text with one inline button per option; pressing button
// i produces a callback whose data is strconv(i).
func (c *Client) SendMenu(ctx context.Context, chatID int64, text string, options []string) error {
	keyboard := make([][]map[string]any, 0, len(options))
	for i, option := range options {
		keyboard = append(keyboard, []map[string]any{{
			"text":          fmt.Sprintf("%d. %s", i+1, option),
			"callback_data": fmt.Sprintf("%d", i),
		}})
	}
	params := map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": map[string]any{"inline_keyboard": keyboard},
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// AnswerCallback acknowledges a callback query without showing text.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	params := map[string]any{"callback_query_id": callbackID}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// me returns the bot's own user ID, fetched once and cached.
func (c *Client) me(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.botID != 0 {
		return c.botID, nil
	}
	var result struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, "getMe", nil, &result); err != nil {
		return 0, err
	}
	c.botID = result.ID
	return c.botID, nil
}

// supersededMarker is the inline-button decoration attached to mirrors of
// edited messages. Data "-1" is ignored by the callback dispatcher.
func supersededMarker() map[string]any {
	return map[string]any{
		"inline_keyboard": [][]map[string]any{{{
			"text":          "Updated message",
			"callback_data": "-1",
		}}},
	}
}
