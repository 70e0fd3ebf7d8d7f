package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/vidchat/internal/config"
	"github.com/nugget/vidchat/internal/events"
)

func testForwarder(prefix string) *Forwarder {
	cfg := config.MQTTConfig{Broker: "mqtt://localhost:1883", TopicPrefix: prefix}
	return New(cfg, "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", events.New(), nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestForwarder_Topics(t *testing.T) {
	f := testForwarder("vidchat/prod/")

	if got := f.availabilityTopic(); got != "vidchat/prod/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
	if got := f.statusTopic(); got != "vidchat/prod/status" {
		t.Errorf("statusTopic = %q", got)
	}

	tests := []struct {
		e    events.Event
		want string
	}{
		{events.Event{Source: events.SourceChat, Kind: events.KindReply}, "vidchat/prod/events/chat/reply"},
		{events.Event{Source: "a/b", Kind: "x+#"}, "vidchat/prod/events/a_b/x__"},
		{events.Event{}, "vidchat/prod/events/unknown/unknown"},
	}
	for _, tt := range tests {
		if got := f.eventTopic(tt.e); got != tt.want {
			t.Errorf("eventTopic(%s/%s) = %q, want %q", tt.e.Source, tt.e.Kind, got, tt.want)
		}
	}
}

func TestForwarder_ClientID(t *testing.T) {
	f := testForwarder("vidchat")
	if got := f.clientID(); got != "vidchat-0c1d2e3f4a5b" {
		t.Errorf("clientID = %q", got)
	}
	f.instanceID = "short"
	if got := f.clientID(); got != "vidchat-short" {
		t.Errorf("clientID = %q", got)
	}
}

func TestForwarder_Status(t *testing.T) {
	f := testForwarder("vidchat")
	f.counts.Observe(events.Event{Kind: events.KindReply, Data: map[string]any{"outcome": "fallback"}})

	data, err := json.Marshal(f.status())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["instance"] != f.instanceID {
		t.Errorf("instance = %v", got["instance"])
	}
	today, ok := got["today"].(map[string]any)
	if !ok || today["replies"] != float64(1) {
		t.Errorf("today = %v", got["today"])
	}
}

func TestForwarder_PublishBeforeStart(t *testing.T) {
	f := testForwarder("vidchat")
	err := f.publish(context.Background(), "t", nil, 0, false)
	if err == nil || !strings.Contains(err.Error(), "not started") {
		t.Errorf("publish before Start = %v", err)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.TrimSpace(string(data)) != first {
		t.Errorf("file content = %q, want %q", data, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	if (config.MQTTConfig{}).Configured() {
		t.Error("empty config reported configured")
	}
	if !(config.MQTTConfig{Broker: "mqtt://b:1883"}).Configured() {
		t.Error("broker config reported unconfigured")
	}
}
