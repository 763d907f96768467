// Package notifications dispatches push notifications for recipients with
// no live connection. Dispatch is best-effort: the delivery core never
// waits on or retries a push.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Dispatcher interface {
	Send(ctx context.Context, token, title, body, deepLink string) error
}

type FCMClient struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

func NewFCMClient(endpoint, serverKey string) *FCMClient {
	return &FCMClient{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmWebpush struct {
	Notification struct {
		ClickAction string `json:"click_action"`
	} `json:"notification"`
}

type fcmMessage struct {
	To           string          `json:"to"`
	Notification fcmNotification `json:"notification"`
	Webpush      fcmWebpush      `json:"webpush"`
}

func (c *FCMClient) Send(ctx context.Context, token, title, body, deepLink string) error {
	msg := fcmMessage{
		To: token,
		Notification: fcmNotification{
			Title: title,
			Body:  body,
		},
	}
	msg.Webpush.Notification.ClickAction = deepLink

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push notification rejected: %s", resp.Status)
	}
	return nil
}
