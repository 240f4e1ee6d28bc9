package vault

import (
	"math"

	"github.com/google/uuid"
)

// UnlimitedAllowance marks a spender approval that is never decremented.
const UnlimitedAllowance = math.MaxInt64

// AccountState is the per-account bookkeeping record. Shares are the
// account's settled holdings. Deposit and Redemption accumulate pending
// amounts recorded during the epoch in Epoch; QueuedDeposit and
// QueuedRedemption hold amounts recorded while the current epoch was stale,
// deferred to QueuedEpoch. Unclaimed is the asset amount owed from
// converted redemptions, payable through Claim.
type AccountState struct {
	Shares           int64
	Unclaimed        int64
	Deposit          int64
	Redemption       int64
	Epoch            Epoch
	QueuedDeposit    int64
	QueuedRedemption int64
	QueuedEpoch      Epoch
}

func (a *AccountState) hasPending() bool {
	return a.Deposit > 0 || a.Redemption > 0
}

func (a *AccountState) hasQueued() bool {
	return a.QueuedDeposit > 0 || a.QueuedRedemption > 0
}

type allowanceKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}
