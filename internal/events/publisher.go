package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for the topic exchange
const (
	RoutingKeyTranscript = "transcript.created"
	RoutingKeyNote       = "note.created"
)

// Config contains event publisher configuration
type Config struct {
	URL      string
	Exchange string
}

// TranscriptEvent is emitted after an upload has been transcribed and
// appended to the session record
type TranscriptEvent struct {
	SessionID  string    `json:"session_id"`
	AudioID    string    `json:"audio_id"`
	Transcript string    `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

// NoteEvent is emitted after a clinical note has been generated
type NoteEvent struct {
	SessionID  string    `json:"session_id"`
	Note       string    `json:"note"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// Publisher sends session events to a RabbitMQ topic exchange. A publisher
// created without a broker URL is disabled and accepts publishes silently.
type Publisher struct {
	config Config
	logger *slog.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
	enabled bool

	// Statistics
	published uint64
	failed    uint64

	mu sync.Mutex
}

// PublisherStats represents event publisher statistics
type PublisherStats struct {
	Enabled   bool   `json:"enabled"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// NewPublisher connects to the broker and declares the topic exchange. An
// empty URL returns a disabled publisher without connecting anywhere.
func NewPublisher(config Config, logger *slog.Logger) (*Publisher, error) {
	if config.URL == "" {
		logger.Info("Event publishing disabled, no broker URL configured")
		return &Publisher{config: config, logger: logger}, nil
	}

	if config.Exchange == "" {
		config.Exchange = "scribe.events"
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		config.Exchange, // name
		"topic",         // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("Event publisher connected",
		slog.String("exchange", config.Exchange))

	return &Publisher{
		config:  config,
		logger:  logger,
		conn:    conn,
		channel: channel,
		enabled: true,
	}, nil
}

// Enabled reports whether events are actually delivered to a broker
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishTranscript emits a transcript.created event
func (p *Publisher) PublishTranscript(sessionID, audioID, transcript string) error {
	return p.publish(RoutingKeyTranscript, TranscriptEvent{
		SessionID:  sessionID,
		AudioID:    audioID,
		Transcript: transcript,
		CreatedAt:  time.Now(),
	})
}

// PublishNote emits a note.created event
func (p *Publisher) PublishNote(sessionID, note string, tokensUsed int) error {
	return p.publish(RoutingKeyNote, NoteEvent{
		SessionID:  sessionID,
		Note:       note,
		TokensUsed: tokensUsed,
		CreatedAt:  time.Now(),
	})
}

func (p *Publisher) publish(routingKey string, event interface{}) error {
	if !p.enabled {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(
		p.config.Exchange, // exchange
		routingKey,        // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.failed++
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.published++
	return nil
}

// GetStats returns current publisher statistics
func (p *Publisher) GetStats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PublisherStats{
		Enabled:   p.enabled,
		Published: p.published,
		Failed:    p.failed,
	}
}

// Close releases the broker channel and connection
func (p *Publisher) Close() error {
	if !p.enabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conn = nil
	}

	p.enabled = false
	return firstErr
}
