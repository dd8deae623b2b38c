package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lastofguss/guss/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds JetStream connection and stream settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultConfig returns the default JetStream relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "GUSS_EVENTS",
		SubjectPrefix: "guss.rounds",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// Relay bridges the in-process event bus to a JetStream broker so other
// processes (bots, dashboards) can follow rounds without a WebSocket. It is
// an optional collaborator: the game runs fine without it, and a publish
// failure only costs the broker copy of the event.
type Relay struct {
	bus    *events.Bus
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
}

// New connects to NATS and ensures the event stream exists.
func New(bus *events.Bus, cfg Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := &Relay{bus: bus, nc: nc, js: js, config: cfg}
	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return r, nil
}

func (r *Relay) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Round lifecycle and score events",
		Subjects:    []string{fmt.Sprintf("%s.>", r.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.config.MaxAge,
		Storage:     jetstream.FileStorage,
	}

	if _, err := r.js.Stream(ctx, r.config.StreamName); err != nil {
		if _, err := r.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("created JetStream stream")
	}
	return nil
}

// Run consumes the bus until ctx is canceled, republishing every event to
// the broker.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.bus.Subscribe()
	defer sub.Close()

	log.Info().
		Str("stream", r.config.StreamName).
		Str("subject_prefix", r.config.SubjectPrefix).
		Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event relay shutting down")
			return nil
		case ev := <-sub.C:
			if err := r.publish(ctx, ev); err != nil {
				log.Error().
					Err(err).
					Str("event_type", string(ev.Type)).
					Msg("failed to relay event")
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev events.Event) error {
	subject := fmt.Sprintf("%s.%s", r.config.SubjectPrefix, sanitizeSubject(string(ev.Type)))

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = r.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type)},
			"Round-ID":   []string{ev.RoundID.String()},
			"Event-ID":   []string{ev.ID},
		},
	},
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}
	return nil
}

// Close drops the broker connection.
func (r *Relay) Close() error {
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}

// sanitizeSubject makes an event type usable as a NATS subject token.
func sanitizeSubject(evType string) string {
	out := make([]byte, 0, len(evType))
	for i := 0; i < len(evType); i++ {
		switch c := evType[i]; c {
		case ':', ' ':
			out = append(out, '-')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
