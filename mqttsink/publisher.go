// Package mqttsink mirrors door daemon broadcasts to an MQTT broker.
//
// Each broadcast category has its own topic under a configurable prefix:
//
//	<prefix>/status   retained, last known door state
//	<prefix>/error
//	<prefix>/request
//
// Publishing never blocks the caller; acknowledgements are awaited in the
// background and failures are logged.
package mqttsink

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	door "github.com/luhtfiimanal/door-daemon"
	"github.com/luhtfiimanal/door-daemon/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Publisher implements door.EventSink over MQTT.
type Publisher struct {
	client pahomqtt.Client
	prefix string
	qos    byte
	log    zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ door.EventSink = (*Publisher)(nil)

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTTConfig, log zerolog.Logger) (*Publisher, error) {
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, cfg.QoS)
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return newPublisher(client, cfg.TopicPrefix, byte(cfg.QoS), log), nil
}

func newPublisher(client pahomqtt.Client, prefix string, qos byte, log zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		prefix: prefix,
		qos:    qos,
		log:    log.With().Str("component", "mqttsink").Logger(),
	}
}

// Topic returns the topic carrying cat, or "" for mixed categories.
func (p *Publisher) Topic(cat door.Category) string {
	switch cat {
	case door.CategoryStatus, door.CategoryError, door.CategoryRequest:
		return p.prefix + "/" + cat.String()
	default:
		return ""
	}
}

// Publish sends line on the topic for cat.
func (p *Publisher) Publish(cat door.Category, line string) {
	topic := p.Topic(cat)
	if topic == "" {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	retained := cat == door.CategoryStatus
	token := p.client.Publish(topic, p.qos, retained, line)

	go func() {
		defer p.wg.Done()
		if err := wait(token); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("event not mirrored")
		}
	}()
}

func wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close waits for outstanding publishes and disconnects. Publish calls
// after Close are dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
	}
	return nil
}
