package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/tasks"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"clash/events/#", "clash/events/war/war_attack", true},
		{"clash/events/#", "clash/events", true},
		{"clash/events/+/war_ended", "clash/events/war/war_ended", true},
		{"clash/events/+/war_ended", "clash/events/war/war_attack", false},
		{"clash/events/clan/+", "clash/events/clan", false},
		{"clash/request/status", "clash/request/status", true},
		{"clash/request/status", "clash/request/status/extra", false},
	}

	for _, tt := range tests {
		if got := topicMatch(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("topicMatch(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

type fakePublisher struct {
	connected bool
	topics    []string
}

func (p *fakePublisher) Publish(topic string, payload interface{}) error {
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func TestBridgeFilters(t *testing.T) {
	pub := &fakePublisher{connected: true}
	b := NewBridge(pub, "clash/events/war/#")

	war := events.New(events.KindWar, events.WarEnded, "#2PP", time.Now(), nil)
	clan := events.New(events.KindClan, events.ClanMemberJoin, "#2PP", time.Now(), nil)
	for _, ev := range []events.Event{war, clan} {
		if err := b.Handle(context.Background(), ev); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}

	if len(pub.topics) != 1 || pub.topics[0] != "clash/events/war/war_ended" {
		t.Errorf("published = %v, want [clash/events/war/war_ended]", pub.topics)
	}
}

func TestBridgeSkipsWhileDisconnected(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub)
	ev := events.New(events.KindRaid, events.RaidEnded, "#2PP", time.Now(), nil)
	if err := b.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(pub.topics) != 0 {
		t.Errorf("published %v while disconnected", pub.topics)
	}
}

type fakeControl struct {
	locked  bool
	lockErr error
}

func (c *fakeControl) Lock(ctx context.Context) error {
	c.locked = true
	return c.lockErr
}

func (c *fakeControl) Unlock() { c.locked = false }

func (c *fakeControl) Status() tasks.Status {
	return tasks.Status{Maintenance: c.locked, ManualLock: c.locked}
}

func TestMaintenanceHandler(t *testing.T) {
	c := &fakeControl{}
	h := MaintenanceHandler(c, time.Second)

	if _, err := h(map[string]interface{}{"lock": true}); err != nil {
		t.Fatalf("lock error = %v", err)
	}
	if !c.locked {
		t.Error("lock request did not lock")
	}

	if _, err := h(map[string]interface{}{"lock": false}); err != nil {
		t.Fatalf("unlock error = %v", err)
	}
	if c.locked {
		t.Error("unlock request did not unlock")
	}

	if _, err := h(map[string]interface{}{"lock": "yes"}); err == nil {
		t.Error("non-boolean lock accepted")
	}

	c.lockErr = context.DeadlineExceeded
	if _, err := h(map[string]interface{}{"lock": true}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("lock with drain timeout = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestHandleRequest(t *testing.T) {
	raw := []byte(`{"correlationId":"abc","payload":{"lock":false}}`)
	resp, ok := handleRequest("maintenance", raw, func(payload map[string]interface{}) (interface{}, error) {
		if payload["_topic"] != "maintenance" {
			t.Errorf("_topic = %v, want maintenance", payload["_topic"])
		}
		return "ok", nil
	})
	if !ok || resp.CorrelationID != "abc" || resp.Data != "ok" {
		t.Errorf("handleRequest() = %+v, %v", resp, ok)
	}

	if _, ok := handleRequest("status", []byte("{"), nil); ok {
		t.Error("handleRequest() accepted malformed JSON")
	}

	resp, _ = handleRequest("status", []byte(`{"correlationId":"x"}`), func(map[string]interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	if resp.Error != "boom" {
		t.Errorf("Error = %q, want boom", resp.Error)
	}
}

func TestHandleRequestRecoversPanic(t *testing.T) {
	resp, ok := handleRequest("status", []byte(`{"correlationId":"p1"}`), func(map[string]interface{}) (interface{}, error) {
		panic("nil status")
	})
	if !ok || resp.CorrelationID != "p1" || resp.Error == "" {
		t.Errorf("handleRequest() = %+v, %v, want an error response for p1", resp, ok)
	}
}
