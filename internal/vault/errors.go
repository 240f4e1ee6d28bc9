package vault

import "errors"

var (
	// ErrInvalidAmount rejects zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDepositLimit rejects deposits above the current capacity.
	ErrDepositLimit = errors.New("deposit exceeds maximum")

	// ErrRedemptionLimit rejects redemptions above the redeemable balance.
	ErrRedemptionLimit = errors.New("redemption exceeds maximum")

	// ErrInsufficientShares rejects redemptions above the account's
	// settled balance.
	ErrInsufficientShares = errors.New("insufficient share balance")

	// ErrInsufficientAllowance rejects third-party redemptions without a
	// sufficient approval from the share owner.
	ErrInsufficientAllowance = errors.New("insufficient share allowance")
)
