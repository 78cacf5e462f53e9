package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/tasks"
)

// Publisher is the side of the communicator the bridge needs
type Publisher interface {
	Publish(topic string, payload interface{}) error
	IsConnected() bool
}

// Bridge republishes detected transitions on the broker
type Bridge struct {
	pub     Publisher
	filters []string
}

// NewBridge creates a bridge that forwards the events whose topic matches
// one of filters. With no filters every event is forwarded.
func NewBridge(pub Publisher, filters ...string) *Bridge {
	if len(filters) == 0 {
		filters = []string{eventsRoot + "#"}
	}
	return &Bridge{pub: pub, filters: filters}
}

// EventTopic returns the topic an event is published on
func EventTopic(ev events.Event) string {
	return fmt.Sprintf("%s%s/%s", eventsRoot, ev.Kind, ev.Transition)
}

// Handle is an events.HandlerFunc publishing ev as JSON
func (b *Bridge) Handle(ctx context.Context, ev events.Event) error {
	topic := EventTopic(ev)
	if !b.wants(topic) {
		return nil
	}
	if !b.pub.IsConnected() {
		return nil
	}
	return b.pub.Publish(topic, ev)
}

func (b *Bridge) wants(topic string) bool {
	for _, f := range b.filters {
		if topicMatch(f, topic) {
			return true
		}
	}
	return false
}

// Control is the controller surface exposed over MQTT requests
type Control interface {
	Lock(ctx context.Context) error
	Unlock()
	Status() tasks.Status
}

// MaintenanceHandler toggles the maintenance lock. The payload carries
// {"lock": bool}; locking waits up to timeout for in-flight work to drain.
func MaintenanceHandler(c Control, timeout time.Duration) RequestHandler {
	return func(payload map[string]interface{}) (interface{}, error) {
		lock, ok := payload["lock"].(bool)
		if !ok {
			return nil, fmt.Errorf("se esperaba el campo booleano 'lock'")
		}
		if !lock {
			c.Unlock()
			logger.Info("Bloqueo de mantenimiento retirado por MQTT", "MQTT")
			return map[string]interface{}{"maintenance": c.Status().Maintenance}, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := c.Lock(ctx); err != nil {
			return nil, fmt.Errorf("el bloqueo quedó activo pero el trabajo no terminó: %w", err)
		}
		logger.Warn("Bloqueo de mantenimiento activado por MQTT", "MQTT")
		return map[string]interface{}{"maintenance": true}, nil
	}
}

// StatusHandler answers with the controller status
func StatusHandler(c Control) RequestHandler {
	return func(payload map[string]interface{}) (interface{}, error) {
		return c.Status(), nil
	}
}

// RegisterControl subscribes the maintenance and status request topics
func (mc *MqttCommunicator) RegisterControl(c Control) {
	mc.On("maintenance", MaintenanceHandler(c, 30*time.Second))
	mc.On("status", StatusHandler(c))
	logger.Info("Peticiones MQTT de control registradas", "MQTT")
}
