// Package messaging provides the JetStream client used by every pipeline
// stage. It owns the queue topology (streams, subjects, durable consumer
// groups) and exposes ack-after-effect consumption: a handler that returns
// nil acknowledges the delivery, a handler that returns an error leaves it
// for broker redelivery, and a handler that returns ErrDrop acknowledges a
// unit that can never succeed so it does not poison the queue.
package messaging

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Queue subjects used across pipeline services.
const (
	QueueImages           = "multimedia.images"
	QueueAudio            = "multimedia.audio"
	QueueText             = "multimedia.text"
	QueueTranscribedAudio = "prompt.transcribed-audio"
	QueueReadyInfo        = "prompt.ready_info"
	QueueRuleMatch        = "message-rule-match"
)

// streamDefs maps stream names to the subjects they persist.
var streamDefs = []nats.StreamConfig{
	{Name: "MULTIMEDIA", Subjects: []string{"multimedia.>"}, Storage: nats.FileStorage},
	{Name: "PROMPT", Subjects: []string{"prompt.>"}, Storage: nats.FileStorage},
	{Name: "VIOLATIONS", Subjects: []string{QueueRuleMatch}, Storage: nats.FileStorage},
}

// ErrDrop signals a terminal per-unit failure: the delivery is acknowledged
// and logged instead of redelivered.
var ErrDrop = errors.New("messaging: drop delivery")

const (
	defaultAckWait    = 2 * time.Minute
	defaultMaxDeliver = 5
)

// Client wraps a NATS connection with its JetStream context and tracks
// subscriptions for draining on shutdown.
type Client struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	ackWait    time.Duration
	maxDeliver int

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
	AckWait       time.Duration // redelivery timeout for unacked messages
	MaxDeliver    int           // redelivery attempts before the broker gives up
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "modwatch",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
		AckWait:       defaultAckWait,
		MaxDeliver:    defaultMaxDeliver,
	}
}

// NewClient connects to NATS, initialises JetStream, and ensures the
// pipeline streams exist. It returns an error if the initial connection
// or stream setup fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream: %w", err)
	}

	c := &Client{conn: nc, js: js, ackWait: config.AckWait, maxDeliver: config.MaxDeliver}
	if c.ackWait <= 0 {
		c.ackWait = defaultAckWait
	}
	if c.maxDeliver <= 0 {
		c.maxDeliver = defaultMaxDeliver
	}
	if err := c.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return c, nil
}

// ensureStreams creates the pipeline streams if they do not already exist.
func (c *Client) ensureStreams() error {
	for _, def := range streamDefs {
		def := def
		_, err := c.js.StreamInfo(def.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("nats stream info %s: %w", def.Name, err)
		}
		if _, err := c.js.AddStream(&def); err != nil {
			return fmt.Errorf("nats add stream %s: %w", def.Name, err)
		}
		log.Printf("[nats] created stream %s (%v)", def.Name, def.Subjects)
	}
	return nil
}

// Publish persists data on the given queue subject. It waits for the
// JetStream ack, so a nil return means the broker has the message.
func (c *Client) Publish(queue string, data []byte) error {
	if _, err := c.js.Publish(queue, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", queue, err)
	}
	return nil
}

// Consume subscribes the named durable group to a queue subject. Each
// delivery is passed to handler; the delivery is acked when handler
// returns nil or ErrDrop, and naked for redelivery otherwise. Multiple
// consumers with the same durable name share the queue.
func (c *Client) Consume(queue, durable string, handler func(data []byte) error) error {
	sub, err := c.js.QueueSubscribe(queue, durable, func(msg *nats.Msg) {
		err := handler(msg.Data)
		switch {
		case err == nil:
			if err := msg.Ack(); err != nil {
				log.Printf("[nats] ack %s: %v", queue, err)
			}
		case errors.Is(err, ErrDrop):
			log.Printf("[nats] dropping delivery on %s: %v", queue, err)
			if err := msg.Ack(); err != nil {
				log.Printf("[nats] ack %s: %v", queue, err)
			}
		default:
			log.Printf("[nats] handler error on %s, redelivering: %v", queue, err)
			if err := msg.Nak(); err != nil {
				log.Printf("[nats] nak %s: %v", queue, err)
			}
		}
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(c.ackWait),
		nats.MaxDeliver(c.maxDeliver),
	)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", queue, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", sub.Subject, err)
		}
	}
	c.subs = nil

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
