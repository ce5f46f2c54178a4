package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/metrics"
)

// Client publishes transcription progress events to an MQTT broker.
type Client struct {
	conn        mqtt.Client
	topicPrefix string
	connected   atomic.Bool
	log         zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topicPrefix: normalizePrefix(opts.TopicPrefix),
		log:         opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.topicPrefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish sends payload to topic without waiting for the broker ack.
func (c *Client) Publish(topic string, payload []byte) {
	token := c.conn.Publish(topic, 0, false, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// PublishEvent encodes a progress event as JSON and publishes it under
// {prefix}/sessions/{session_id}/{event}. Matches transcribe.EventPublishFunc.
func (c *Client) PublishEvent(eventType, sessionID string, payload map[string]any) {
	if !c.IsConnected() {
		return
	}
	body, err := json.Marshal(eventEnvelope{
		Type:      eventType,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("event", eventType).Msg("failed to encode event")
		return
	}
	c.Publish(EventTopic(c.topicPrefix, sessionID, eventType), body)
	metrics.EventsPublishedTotal.Inc()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

type eventEnvelope struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventTopic builds the topic of a session event. Dots in the event type
// become topic levels ("chunk.progress" -> ".../chunk/progress").
func EventTopic(prefix, sessionID, eventType string) string {
	return normalizePrefix(prefix) + "/sessions/" + sessionID + "/" + strings.ReplaceAll(eventType, ".", "/")
}

func normalizePrefix(raw string) string {
	p := strings.Trim(strings.TrimSpace(raw), "/")
	if p == "" {
		return "meetscribe"
	}
	return p
}
