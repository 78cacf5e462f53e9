// Package mqtt connects the bot to the MQTT broker. Detected transitions are
// republished there and the broker can send maintenance and status requests
// back to the polling core.
package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/PancyStudios/ClashBotGo/pkg/errors"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	topicRoot     = "clash"
	requestRoot   = topicRoot + "/request/"
	responseRoot  = topicRoot + "/response/"
	eventsRoot    = topicRoot + "/events/"
	presenceRoot  = topicRoot + "/presence/"
	publishWait   = 5 * time.Second
	connectWait   = 10 * time.Second
	disconnectMax = 250

	qosEvents  byte = 0
	qosControl byte = 1
)

// Options configures the broker connection
type Options struct {
	Host     string
	Port     string
	Username string
	Password string
	// ClientID names the bot instance. A random suffix is added per connection.
	ClientID string
}

// MqttRequest represents an MQTT request message
type MqttRequest struct {
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload,omitempty"`
}

// MqttResponse represents an MQTT response message
type MqttResponse struct {
	CorrelationID string      `json:"correlationId"`
	Data          interface{} `json:"data"`
	Error         string      `json:"error,omitempty"`
}

// RequestHandler answers one request. The payload map also carries the
// request topic under "_topic".
type RequestHandler func(payload map[string]interface{}) (interface{}, error)

// MqttCommunicator handles MQTT communication
type MqttCommunicator struct {
	client   mqtt.Client
	clientID string

	mu     sync.RWMutex
	routes map[string]RequestHandler
}

var (
	communicator *MqttCommunicator
	once         sync.Once
)

// Init initializes the global MQTT communicator
func Init(opts Options) *MqttCommunicator {
	once.Do(func() {
		communicator = NewMqttCommunicator(opts)
	})
	return communicator
}

// Get returns the global MQTT communicator
func Get() *MqttCommunicator {
	return communicator
}

// NewMqttCommunicator connects to the broker. A broker that is down is not
// an error; paho keeps retrying in the background.
func NewMqttCommunicator(opts Options) *MqttCommunicator {
	mc := &MqttCommunicator{
		clientID: opts.ClientID,
		routes:   make(map[string]RequestHandler),
	}

	uniqueID := fmt.Sprintf("%s_%s", opts.ClientID, uuid.New().String())

	clientOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", opts.Host, opts.Port)).
		SetClientID(uniqueID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetWill(mc.presenceTopic(), "offline", qosControl, true).
		SetOnConnectHandler(mc.onConnect).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Error(fmt.Sprintf("Conexión MQTT perdida: %v", err), "MQTT")
		})

	mc.client = mqtt.NewClient(clientOpts)

	token := mc.client.Connect()
	if !token.WaitTimeout(connectWait) {
		logger.Warn("Broker MQTT sin respuesta, se seguirá reintentando", "MQTT")
	} else if token.Error() != nil {
		logger.Error(fmt.Sprintf("Error de conexión MQTT: %v", token.Error()), "MQTT")
	}

	return mc
}

func (mc *MqttCommunicator) presenceTopic() string {
	return presenceRoot + mc.clientID
}

// onConnect announces the instance and restores the request subscriptions,
// which the broker drops along with the clean session
func (mc *MqttCommunicator) onConnect(c mqtt.Client) {
	logger.Success(fmt.Sprintf("Conectado al broker MQTT como %s", mc.clientID), "MQTT")
	c.Publish(mc.presenceTopic(), qosControl, true, "online")

	mc.mu.RLock()
	topics := make([]string, 0, len(mc.routes))
	for topic := range mc.routes {
		topics = append(topics, topic)
	}
	mc.mu.RUnlock()

	for _, topic := range topics {
		mc.subscribe(topic)
	}
}

// Destroy marks the instance offline and closes the connection
func (mc *MqttCommunicator) Destroy() {
	if !mc.IsConnected() {
		logger.Warn("El cliente MQTT no estaba conectado, no se necesita cerrar.", "MQTT")
		return
	}
	mc.client.Publish(mc.presenceTopic(), qosControl, true, "offline").WaitTimeout(publishWait)
	mc.client.Disconnect(disconnectMax)
	logger.System("Conexión MQTT cerrada exitosamente.", "MQTT")
}

// IsConnected returns true if connected to the broker
func (mc *MqttCommunicator) IsConnected() bool {
	return mc != nil && mc.client != nil && mc.client.IsConnected()
}

// Publish sends payload as JSON on topic
func (mc *MqttCommunicator) Publish(topic string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := mc.client.Publish(topic, qosEvents, false, jsonData)
	if !token.WaitTimeout(publishWait) {
		return fmt.Errorf("publicación en '%s' expirada", topic)
	}
	return token.Error()
}

// On registers callback for requests on clash/request/<requestTopic>.
// Routes registered while offline are subscribed on connect.
func (mc *MqttCommunicator) On(requestTopic string, callback RequestHandler) {
	topic := requestRoot + requestTopic

	mc.mu.Lock()
	mc.routes[topic] = callback
	mc.mu.Unlock()

	if mc.IsConnected() {
		mc.subscribe(topic)
	}
}

func (mc *MqttCommunicator) subscribe(topic string) {
	token := mc.client.Subscribe(topic, qosControl, mc.dispatch)
	if !token.WaitTimeout(publishWait) {
		logger.Warn(fmt.Sprintf("Suscripción a %s sin confirmar", topic), "MQTT")
		return
	}
	if token.Error() != nil {
		logger.Error(fmt.Sprintf("Error subscribing to topic %s: %v", topic, token.Error()), "MQTT")
	}
}

func (mc *MqttCommunicator) dispatch(c mqtt.Client, msg mqtt.Message) {
	mc.mu.RLock()
	callback, ok := mc.routes[msg.Topic()]
	mc.mu.RUnlock()
	if !ok {
		return
	}

	actualTopic := strings.TrimPrefix(msg.Topic(), requestRoot)
	response, ok := handleRequest(actualTopic, msg.Payload(), callback)
	if !ok {
		return
	}
	responseTopic := fmt.Sprintf("%s%s/%s", responseRoot, actualTopic, response.CorrelationID)
	if err := mc.Publish(responseTopic, response); err != nil {
		logger.Warn(fmt.Sprintf("No se pudo responder en %s: %v", responseTopic, err), "MQTT")
	}
}

// handleRequest decodes a raw request and runs callback on its payload.
// A panicking callback is answered with an error response.
func handleRequest(topic string, raw []byte, callback RequestHandler) (resp MqttResponse, ok bool) {
	var request MqttRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		logger.Error(fmt.Sprintf("Error parsing MQTT request: %v", err), "MQTT")
		return MqttResponse{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			apperrors.HandleRecovered(r)
			resp = MqttResponse{CorrelationID: request.CorrelationID, Error: fmt.Sprintf("error interno: %v", r)}
			ok = true
		}
	}()

	payloadMap := make(map[string]interface{})
	if pm, isMap := request.Payload.(map[string]interface{}); isMap {
		payloadMap = pm
	}
	payloadMap["_topic"] = topic

	data, err := callback(payloadMap)
	if err != nil {
		return MqttResponse{CorrelationID: request.CorrelationID, Error: err.Error()}, true
	}
	return MqttResponse{CorrelationID: request.CorrelationID, Data: data}, true
}

// topicMatch reports whether topic matches pattern. '+' matches one level,
// '#' matches the remaining levels and must come last.
func topicMatch(pattern, topic string) bool {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range patternParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(patternParts) == len(topicParts)
}
