package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"HedgeVault/internal/vault"
)

// Publisher fans vault events out to NATS for downstream consumers
// (risk dashboards, deposit notifiers, reconciliation jobs). Publishing is
// fire and forget: the Postgres event log is the source of truth, so a
// failed publish is logged and skipped.
type Publisher struct {
	js     jetstream.JetStream
	inputs <-chan vault.Output
	log    zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputs <-chan vault.Output, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, inputs: inputs, log: log}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputs:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out.Event); err != nil {
				p.log.Warn().Err(err).
					Str("event", string(out.Event.Type)).
					Int64("epoch", int64(out.Event.Epoch)).
					Msg("outbound publish failed")
			}
		}
	}
}

// publish sends the event to vault.events.{event_type}.
func (p *Publisher) publish(ctx context.Context, evt vault.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("vault.events.%s", evt.Type)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureVaultStream creates or updates the outbound events stream.
func EnsureVaultStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_EVENTS",
		Subjects:  []string{"vault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create vault events stream: %w", err)
	}
	return nil
}
