package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/presence-cec/internal/logic"
)

// offlineCapacity is how many messages are kept while the broker is unreachable.
const offlineCapacity = 100

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are queued and replayed when paho reconnects.
type RealPublisher struct {
	client paho.Client
	topic  string

	mu      sync.Mutex
	online  bool // set by replay, cleared on connection loss; guarded by mu
	offline *offlineQueue
}

// NewRealPublisher creates a publisher for the given broker. clientID gets a
// random suffix so two daemons never share a session. If the broker is not
// reachable within the connect timeout the publisher is still returned and
// paho keeps retrying in the background.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{
		topic:   Topic,
		offline: newOfflineQueue(offlineCapacity),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			p.replay()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.setOffline()
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a power event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - we want to ensure delivery
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.online || !p.client.IsConnectionOpen() {
		p.offline.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// replay marks the publisher online and publishes queued messages after a
// (re)connect. Runs on a paho goroutine. The online flag and the drain change
// together under mu, so a concurrent send either queues before the drain or
// publishes directly.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	p.online = true
	msgs, dropped := p.offline.drain()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: connected, replaying %d queued messages (%d dropped)", len(msgs), dropped)
	for _, m := range msgs {
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (p *RealPublisher) setOffline() {
	p.mu.Lock()
	p.online = false
	p.mu.Unlock()
}

// queued returns the number of messages waiting for a connection.
func (p *RealPublisher) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offline.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
