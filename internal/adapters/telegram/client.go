/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/HamedShams/review-pulse/internal/config"
    "github.com/rs/zerolog"
)

// Client posts ops alerts about failed ingestion runs. Best-effort: a lost
// alert is logged, never escalated.
type Client struct {
    token   string
    chatIDs []int64
    http    *http.Client
    log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{token: cfg.TelegramToken, chatIDs: cfg.TelegramChatIDs, http: &http.Client{Timeout: 10 * time.Second}, log: log}
}

func (c *Client) sendMessage(ctx context.Context, chatID int64, text string) error {
    if c.token == "" || chatID == 0 { return fmt.Errorf("telegram: missing token or chat id") }
    url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)
    body := map[string]any{"chat_id": chatID, "text": text, "disable_web_page_preview": true}
    b, _ := json.Marshal(body)
    req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        bodyBytes, _ := io.ReadAll(resp.Body)
        return fmt.Errorf("telegram sendMessage status=%d body=%s", resp.StatusCode, string(bodyBytes))
    }
    return nil
}

// NotifyFailure fans a failure message out to every configured ops chat.
func (c *Client) NotifyFailure(ctx context.Context, msg string) {
    if c.token == "" || len(c.chatIDs) == 0 { return }
    for _, chat := range c.chatIDs {
        if err := c.sendMessage(ctx, chat, msg); err != nil {
            c.log.Error().Err(err).Int64("chat", chat).Msg("telegram send failed")
        }
    }
}
