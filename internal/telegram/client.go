package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// ParseModeHTML selects Telegram's HTML formatting.
const ParseModeHTML = "HTML"

// APIError is returned when the Bot API answers with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

// NewClient returns a Bot API client. An empty apiURL selects DefaultAPIURL.
func NewClient(token, apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    fmt.Sprintf("%s/bot%s", strings.TrimRight(apiURL, "/"), token),
	}
}

func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method)
}

func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !apiResp.OK {
		return nil, &APIError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
	}
	return apiResp.Result, nil
}

func marshalMarkup(replyMarkup any) (json.RawMessage, error) {
	if replyMarkup == nil {
		return nil, nil
	}
	return json.Marshal(replyMarkup)
}

func messageID(result json.RawMessage) (int64, error) {
	var msg MessageResult
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("decode message: %w", err)
	}
	return msg.MessageID, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string, replyMarkup any) (int64, error) {
	rm, err := marshalMarkup(replyMarkup)
	if err != nil {
		return 0, err
	}
	result, err := c.call(ctx, "sendMessage", SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: rm,
	})
	if err != nil {
		return 0, err
	}
	return messageID(result)
}

// SendPhoto uploads a local image file with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, path, caption, parseMode string, replyMarkup any) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"caption":    caption,
		"parse_mode": parseMode,
	}
	if replyMarkup != nil {
		rm, err := json.Marshal(replyMarkup)
		if err != nil {
			return 0, err
		}
		fields["reply_markup"] = string(rm)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return 0, err
		}
	}
	part, err := w.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return 0, fmt.Errorf("copy photo: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendPhoto", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	result, err := c.do(req, "sendPhoto")
	if err != nil {
		return 0, err
	}
	return messageID(result)
}

// EditMessageReplyMarkup replaces the inline keyboard of a message; nil removes it.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, replyMarkup any) error {
	req := struct {
		ChatID      int64           `json:"chat_id"`
		MessageID   int64           `json:"message_id"`
		ReplyMarkup json.RawMessage `json:"reply_markup,omitempty"`
	}{ChatID: chatID, MessageID: messageID}
	rm, err := marshalMarkup(replyMarkup)
	if err != nil {
		return err
	}
	req.ReplyMarkup = rm
	_, err = c.call(ctx, "editMessageReplyMarkup", req)
	return err
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	_, err := c.call(ctx, "answerCallbackQuery", AnswerCallbackQueryRequest{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	return err
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	result, err := c.call(ctx, "getUpdates", GetUpdatesRequest{
		Offset:         offset,
		Timeout:        timeout,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	_, err := c.call(ctx, "setWebhook", SetWebhookRequest{
		URL:            url,
		SecretToken:    secretToken,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	return err
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := c.call(ctx, "deleteWebhook", struct{}{})
	return err
}
