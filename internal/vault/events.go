package vault

import (
	"github.com/google/uuid"
)

// EventType enumerates the state transitions the vault reports downstream.
type EventType string

const (
	EventEpochSettled       EventType = "epoch_settled"
	EventDepositRecorded    EventType = "deposit_recorded"
	EventRedemptionRecorded EventType = "redemption_recorded"
	EventClaimPaid          EventType = "claim_paid"
	EventRebalanceCompleted EventType = "rebalance_completed"
)

// Event describes one vault state transition. Amount is in quote units for
// deposits and claims and in share units for redemptions. Timestamp comes
// from the newest oracle observation, never from the wall clock.
type Event struct {
	Type      EventType `json:"type"`
	Epoch     Epoch     `json:"epoch"`
	Account   uuid.UUID `json:"account,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	StateHash []byte    `json:"state_hash,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Output is what the vault hands to the persistence and publishing layers.
// Checkpoint is non-nil only for epoch settlement events.
type Output struct {
	Event      Event
	Checkpoint *Checkpoint
}

// emit pushes an output to the configured channel. Epoch settlements must
// not be dropped, so they block; other events are best effort.
func (v *Vault) emit(out Output, blocking bool) {
	if v.outputs == nil {
		return
	}
	if blocking {
		v.outputs <- out
		return
	}
	select {
	case v.outputs <- out:
	default:
		v.metrics.PublishDrops.Inc()
		v.log.Warn().Str("event", string(out.Event.Type)).Msg("output channel full, event dropped")
	}
}
