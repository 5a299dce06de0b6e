package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/lc-interface-test/internal/logger"
	"github.com/sweeney/lc-interface-test/internal/logic"
	"github.com/sweeney/lc-interface-test/internal/notify"
	"github.com/sweeney/lc-interface-test/internal/thermal"
)

// DefaultBufferSize is how many messages are held while the broker is
// unreachable.
const DefaultBufferSize = 256

const publishTimeout = 5 * time.Second

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected wait in an outbox and are replayed in order on
// reconnect.
type RealPublisher struct {
	client paho.Client
	log    *logger.Logger

	mu  sync.Mutex
	buf *outbox
}

// NewRealPublisher creates a publisher for the given broker. It does not
// wait for the connection: the client keeps retrying in the background
// and messages are buffered until it succeeds.
func NewRealPublisher(broker, clientID string, bufferSize int, log *logger.Logger) *RealPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		log: logger.OrNop(log).Named("mqtt"),
	}
	p.buf = newOutbox(bufferSize, p.log)

	lwt, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(lwt), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.replay() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warnw("connection lost", "err", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Publish sends an engine event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: events drive the history of a test run
	return p.publish(Topic, 1, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// PublishTelemetry sends probe readings. QoS 0, not retained.
func (p *RealPublisher) PublishTelemetry(at time.Time, readings []thermal.Reading) error {
	payload, err := FormatTelemetryPayload(at, readings)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	return p.publish(TopicTelemetry, 0, false, payload)
}

// SendAlert hands an alert to the mail relay. Unlike the other topics an
// alert is not buffered: the caller retries.
func (p *RealPublisher) SendAlert(ctx context.Context, alert notify.Alert) error {
	payload, err := FormatAlertPayload(alert)
	if err != nil {
		return fmt.Errorf("format alert payload: %w", err)
	}
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("send alert: not connected")
	}
	token := p.client.Publish(TopicAlerts, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("send alert: %w", ctx.Err())
	case <-time.After(publishTimeout):
		return fmt.Errorf("send alert: publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	msg := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	p.mu.Lock()
	if !p.client.IsConnectionOpen() || p.buf.len() > 0 {
		// Keep ordering behind anything not yet replayed.
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.send(msg); err != nil {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// replay runs on every (re)connect and flushes the offline buffer.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	pending := p.buf.drain()
	p.mu.Unlock()

	if len(pending) == 0 {
		p.log.Infow("connected")
		return
	}
	p.log.Infow("connected, replaying buffered messages", "count", len(pending))

	for i, msg := range pending {
		if err := p.send(msg); err != nil {
			p.log.Warnw("replay failed, re-buffering", "err", err, "remaining", len(pending)-i)
			p.mu.Lock()
			p.buf.requeue(pending[i:])
			p.mu.Unlock()
			return
		}
	}
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
