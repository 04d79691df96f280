// Package collector gathers round reports published by the nodes, stores
// them and relays them to live dashboards.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/dlobba/lwb-cc2538/go/internal/report"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

// Sink receives every decoded round report.
type Sink interface {
	Store(ctx context.Context, env report.Envelope, r round.Report) error
}

type ConsumerConfig struct {
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

func DefaultConsumerConfig(js report.JetStreamConfig, name string) ConsumerConfig {
	return ConsumerConfig{
		StreamName:    js.StreamName,
		ConsumerName:  name,
		SubjectFilter: js.SubjectPrefix + ".>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 1000,
	}
}

// Consumer pulls round reports from a durable JetStream consumer.
type Consumer struct {
	consumer jetstream.Consumer
	sinks    []Sink
}

func NewConsumer(ctx context.Context, js jetstream.JetStream, cfg ConsumerConfig, sinks ...Sink) (*Consumer, error) {
	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, cfg.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          cfg.ConsumerName,
			Durable:       cfg.ConsumerName,
			Description:   "Glossy round collector",
			FilterSubject: cfg.SubjectFilter,
			DeliverPolicy: jetstream.DeliverAllPolicy,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    cfg.MaxDeliver,
			AckWait:       cfg.AckWait,
			MaxAckPending: cfg.MaxAckPending,
			ReplayPolicy:  jetstream.ReplayInstantPolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", cfg.ConsumerName).Msg("created JetStream consumer")
	} else {
		log.Info().Str("consumer", cfg.ConsumerName).Msg("using existing JetStream consumer")
	}

	return &Consumer{consumer: consumer, sinks: sinks}, nil
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("collector consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := c.Handle(ctx, msg.Data()); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process round report")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

// Handle decodes one envelope and hands it to every sink.
func (c *Consumer) Handle(ctx context.Context, data []byte) error {
	var env report.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	r, err := env.Report()
	if err != nil {
		return err
	}

	for _, s := range c.sinks {
		if err := s.Store(ctx, env, r); err != nil {
			return err
		}
	}

	log.Debug().
		Str("event_id", env.EventID).
		Uint16("node_id", r.NodeID).
		Uint32("seq_no", r.SeqNo).
		Msg("collected round report")
	return nil
}

// ObserverSink feeds collected rounds to a round.Observer, such as the
// Prometheus one.
type ObserverSink struct {
	Observer round.Observer
}

func (s ObserverSink) Store(_ context.Context, _ report.Envelope, r round.Report) error {
	s.Observer.ObserveRound(r)
	return nil
}
