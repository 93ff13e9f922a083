package ledger

import errorsmod "cosmossdk.io/errors"

const ModuleName = "cipherbet"

// Ledger sentinel errors. Every rejection maps to exactly one of these.
var (
	ErrInvalidRequest = errorsmod.Register(ModuleName, 2, "invalid request")

	// authorization
	ErrUnauthorized = errorsmod.Register(ModuleName, 3, "unauthorized")

	// validation
	ErrInvalidWindow = errorsmod.Register(ModuleName, 4, "invalid betting window")
	ErrNotFuture     = errorsmod.Register(ModuleName, 5, "betting start must be in the future")
	ErrInvalidResult = errorsmod.Register(ModuleName, 6, "invalid match result")
	ErrBadMatchID    = errorsmod.Register(ModuleName, 7, "unknown match id")

	// timing and state
	ErrNotOpen            = errorsmod.Register(ModuleName, 8, "betting not open yet")
	ErrClosed             = errorsmod.Register(ModuleName, 9, "betting closed")
	ErrBettingStillOpen   = errorsmod.Register(ModuleName, 10, "betting still open")
	ErrAlreadyFinished    = errorsmod.Register(ModuleName, 11, "match already finished")
	ErrNotFinished        = errorsmod.Register(ModuleName, 12, "match not finished")
	ErrTotalsNotDecrypted = errorsmod.Register(ModuleName, 13, "match totals not decrypted")

	// idempotency
	ErrDuplicateBet     = errorsmod.Register(ModuleName, 14, "bet already placed for this match")
	ErrAlreadySettled   = errorsmod.Register(ModuleName, 15, "bet already settled")
	ErrAlreadyFulfilled = errorsmod.Register(ModuleName, 16, "decryption already fulfilled")
	ErrUnknownRequest   = errorsmod.Register(ModuleName, 17, "unknown decryption request")

	// cryptographic
	ErrInvalidProof  = errorsmod.Register(ModuleName, 18, "invalid input proof")
	ErrBadSignatures = errorsmod.Register(ModuleName, 19, "oracle signatures rejected")

	// resources
	ErrZeroPayment         = errorsmod.Register(ModuleName, 20, "payment must be positive")
	ErrNoBalanceToWithdraw = errorsmod.Register(ModuleName, 21, "no balance to withdraw")
	ErrNoBet               = errorsmod.Register(ModuleName, 22, "no bet for this match")
	ErrPointsOverflow      = errorsmod.Register(ModuleName, 23, "points credit out of range")
	ErrInsufficientFunds   = errorsmod.Register(ModuleName, 24, "insufficient funds")
	ErrPayoutOverflow      = errorsmod.Register(ModuleName, 25, "payout out of range")
)
