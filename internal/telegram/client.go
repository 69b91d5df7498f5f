package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/httpretry"
)

const defaultBaseURL = "https://api.telegram.org"

// Retry policies for Bot API methods and for file downloads.
var (
	APIPolicy      = httpretry.Policy{Retries: 6, Timeout: 12 * time.Second}
	DownloadPolicy = httpretry.Policy{Retries: 6, Timeout: 20 * time.Second}
)

// APIError is a Bot API response with ok=false or a non-2xx status.
type APIError struct {
	Method      string
	Status      int
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram %s failed: %s", e.Method, e.Description)
	}
	return fmt.Sprintf("telegram %s failed: %d", e.Method, e.Status)
}

// Client calls the Bot API for one bot token.
type Client struct {
	http    *httpretry.Client
	token   string
	baseURL string
}

// NewClient creates a Client. An empty baseURL uses api.telegram.org; a nil
// httpClient uses httpretry.New(nil).
func NewClient(token, baseURL string, httpClient *httpretry.Client) *Client {
	if httpClient == nil {
		httpClient = httpretry.New(nil)
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{http: httpClient, token: token, baseURL: base}
}

// envelope is the common Bot API response wrapper.
type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// call posts a JSON body to a Bot API method and decodes result into out.
func (c *Client) call(ctx context.Context, method string, in, out any) error {
	if c.token == "" {
		return errors.New("telegram: bot token is empty")
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("telegram %s: marshal: %w", method, err)
	}
	resp, err := c.http.Do(ctx, &httpretry.Request{
		Op:     "telegram." + method,
		Method: http.MethodPost,
		URL:    c.baseURL + "/bot" + c.token + "/" + method,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}, APIPolicy)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	var env envelope
	if jsonErr := json.Unmarshal(resp.Body, &env); jsonErr != nil || !env.OK {
		return &APIError{Method: method, Status: resp.StatusCode, Description: env.Description}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// InlineButton is one inline keyboard button.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboard is a reply_markup with inline buttons.
type InlineKeyboard struct {
	Rows [][]InlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID                int64           `json:"chat_id"`
	Text                  string          `json:"text"`
	ReplyMarkup           *InlineKeyboard `json:"reply_markup,omitempty"`
	DisableWebPagePreview bool            `json:"disable_web_page_preview"`
}

// SendMessage sends text to chatID with an optional inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, kb *InlineKeyboard) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ReplyMarkup:           kb,
		DisableWebPagePreview: true,
	}, nil)
}

// AnswerCallback stops the button spinner, optionally showing text.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	req := map[string]string{"callback_query_id": callbackID}
	if text != "" {
		req["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", req, nil)
}

// FileInfo locates a file on the Bot API file server.
type FileInfo struct {
	Path string
	Ext  string // jpg, png or webp, from the server-side path
	URL  string // contains the bot token; never log it
}

// ResolveFile calls getFile for fileID.
func (c *Client) ResolveFile(ctx context.Context, fileID string) (*FileInfo, error) {
	var res struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &res); err != nil {
		return nil, err
	}
	if res.FilePath == "" {
		return nil, &APIError{Method: "getFile", Description: "empty file_path"}
	}
	return &FileInfo{
		Path: res.FilePath,
		Ext:  ExtFromPath(res.FilePath),
		URL:  c.baseURL + "/file/bot" + c.token + "/" + res.FilePath,
	}, nil
}

// File is a downloaded file.
type File struct {
	Data []byte
	Ext  string
	Path string
}

// Download resolves and fetches fileID.
func (c *Client) Download(ctx context.Context, fileID string) (*File, error) {
	info, err := c.ResolveFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, &httpretry.Request{
		Op:     "telegram.download",
		Method: http.MethodGet,
		URL:    info.URL,
	}, DownloadPolicy)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("photo download failed: %d", resp.StatusCode)
	}
	log.Debug().Str("path", info.Path).Int("bytes", len(resp.Body)).Msg("Telegram file downloaded")
	return &File{Data: resp.Body, Ext: info.Ext, Path: info.Path}, nil
}

// BotInfo is the getMe result.
type BotInfo struct {
	ID                      int64  `json:"id"`
	IsBot                   bool   `json:"is_bot"`
	FirstName               string `json:"first_name"`
	Username                string `json:"username"`
	CanJoinGroups           bool   `json:"can_join_groups"`
	CanReadAllGroupMessages bool   `json:"can_read_all_group_messages"`
}

// GetMe returns the bot's own account.
func (c *Client) GetMe(ctx context.Context) (*BotInfo, error) {
	var info BotInfo
	if err := c.call(ctx, "getMe", struct{}{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetWebhook registers url with an optional secret token and limits the
// delivered update types to those the bot handles.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	req := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "edited_message", "channel_post", "edited_channel_post", "callback_query"},
	}
	if secret != "" {
		req["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", req, nil)
}

// ExtFromPath maps a file server path to jpg, png or webp; anything else
// is treated as jpg.
func ExtFromPath(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	switch ext {
	case "png", "webp":
		return ext
	}
	return "jpg"
}
