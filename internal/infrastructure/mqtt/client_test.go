package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
)

// =============================================================================
// Topic Builder Tests
// =============================================================================

func TestTopics(t *testing.T) {
	tests := []struct {
		name     string
		build    func() string
		expected string
	}{
		{
			name:     "DeviceState",
			build:    func() string { return Topics{}.DeviceState("712345678") },
			expected: "miotcore/state/712345678",
		},
		{
			name:     "DeviceCommand",
			build:    func() string { return Topics{}.DeviceCommand("712345678") },
			expected: "miotcore/command/712345678",
		},
		{
			name:     "DeviceAvailability",
			build:    func() string { return Topics{}.DeviceAvailability("712345678") },
			expected: "miotcore/availability/712345678",
		},
		{
			name:     "DeviceDiagnostic",
			build:    func() string { return Topics{}.DeviceDiagnostic("712345678") },
			expected: "miotcore/diagnostic/712345678",
		},
		{
			name:     "SystemStatus",
			build:    func() string { return Topics{}.SystemStatus() },
			expected: "miotcore/system/status",
		},
		{
			name:     "AllDeviceCommands",
			build:    func() string { return Topics{}.AllDeviceCommands() },
			expected: "miotcore/command/+",
		},
		{
			name:     "AllDeviceStates",
			build:    func() string { return Topics{}.AllDeviceStates() },
			expected: "miotcore/state/+",
		},
		{
			name:     "AllDeviceAvailability",
			build:    func() string { return Topics{}.AllDeviceAvailability() },
			expected: "miotcore/availability/+",
		},
		{
			name:     "AllTopics",
			build:    func() string { return Topics{}.AllTopics() },
			expected: "miotcore/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(); got != tt.expected {
				t.Errorf("topic = %q, want %q", got, tt.expected)
			}
		})
	}
}

// =============================================================================
// Status Payload Tests
// =============================================================================

func TestStatusPayloads(t *testing.T) {
	var online struct {
		Status   string `json:"status"`
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal([]byte(buildOnlinePayload("miotcore")), &online); err != nil {
		t.Fatalf("online payload is not valid JSON: %v", err)
	}
	if online.Status != "online" || online.ClientID != "miotcore" {
		t.Errorf("online payload = %+v", online)
	}

	var offline struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(buildOfflinePayload("miotcore")), &offline); err != nil {
		t.Fatalf("offline payload is not valid JSON: %v", err)
	}
	if offline.Status != "offline" || offline.Reason != "graceful_shutdown" {
		t.Errorf("offline payload = %+v", offline)
	}
}

// =============================================================================
// Validation Tests (no broker required)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	if err := client.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Publish("test/topic", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Publish("test/topic", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("test/topic", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("test/topic", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("test/topic", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}

	client.subscriptions["miotcore/command/+"] = subscription{topic: "miotcore/command/+", qos: 1}

	if !client.HasSubscription("miotcore/command/+") {
		t.Error("HasSubscription() = false, want true")
	}
	if client.HasSubscription("miotcore/state/+") {
		t.Error("HasSubscription() = true for untracked topic, want false")
	}
}
