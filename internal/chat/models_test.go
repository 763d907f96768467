package chat

import "testing"

func TestDeliveryStatusAdvances(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from DeliveryStatus
		to   DeliveryStatus
		want bool
	}{
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"sent to read", StatusSent, StatusRead, true},
		{"delivered to read", StatusDelivered, StatusRead, true},
		{"delivered to delivered", StatusDelivered, StatusDelivered, false},
		{"read to delivered", StatusRead, StatusDelivered, false},
		{"read to read", StatusRead, StatusRead, false},
		{"delivered to sent", StatusDelivered, StatusSent, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.from.Advances(tt.to); got != tt.want {
				t.Fatalf("Advances(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestDirectKey(t *testing.T) {
	t.Parallel()

	if DirectKey("a", "b") != DirectKey("b", "a") {
		t.Fatal("expected DirectKey to be order-independent")
	}
	if DirectKey("a", "b") == DirectKey("a", "c") {
		t.Fatal("expected distinct pairs to produce distinct keys")
	}
}

func TestChatParticipants(t *testing.T) {
	t.Parallel()

	c := &Chat{ID: "c1", Participants: []string{"a", "b", "c"}}

	if !c.HasParticipant("b") {
		t.Fatal("expected b to be a participant")
	}
	if c.HasParticipant("z") {
		t.Fatal("expected z not to be a participant")
	}

	recipients := c.Recipients("a")
	if len(recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(recipients))
	}
	for _, r := range recipients {
		if r == "a" {
			t.Fatal("sender must be excluded from recipients")
		}
	}
}
