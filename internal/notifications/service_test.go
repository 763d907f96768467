package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nesgem/internal/notifications"
)

func TestFCMClientSend(t *testing.T) {
	t.Parallel()

	var got struct {
		To           string `json:"to"`
		Notification struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notification"`
		Webpush struct {
			Notification struct {
				ClickAction string `json:"click_action"`
			} `json:"notification"`
		} `json:"webpush"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode push payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := notifications.NewFCMClient(srv.URL, "server-key")
	err := client.Send(context.Background(), "device-token", "New message from Alice", "hi", "https://nesgem.com/chats/c1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if auth != "key=server-key" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if got.To != "device-token" {
		t.Fatalf("unexpected token %q", got.To)
	}
	if got.Notification.Title != "New message from Alice" || got.Notification.Body != "hi" {
		t.Fatalf("unexpected notification %+v", got.Notification)
	}
	if got.Webpush.Notification.ClickAction != "https://nesgem.com/chats/c1" {
		t.Fatalf("unexpected click action %q", got.Webpush.Notification.ClickAction)
	}
}

func TestFCMClientSendRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := notifications.NewFCMClient(srv.URL, "bad-key")
	err := client.Send(context.Background(), "device-token", "t", "b", "l")
	if err == nil {
		t.Fatal("expected error for rejected dispatch")
	}
}
