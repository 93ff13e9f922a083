package ledger

import (
	"math"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"
)

// BuyPoints converts a plaintext payment into encrypted point credit.
func (l *Ledger) BuyPoints(caller string, amount uint64) ([]abci.Event, error) {
	if caller == "" {
		return nil, errorsmod.Wrap(ErrInvalidRequest, "missing buyer")
	}
	if amount == 0 {
		return nil, ErrZeroPayment
	}
	rate := l.st.Params.PointsRate
	if rate == 0 || amount > math.MaxUint32/rate {
		return nil, errorsmod.Wrapf(ErrPointsOverflow, "amount %d at rate %d", amount, rate)
	}
	points := amount * rate

	if err := l.st.Debit(caller, amount); err != nil {
		return nil, errorsmod.Wrap(ErrInsufficientFunds, err.Error())
	}
	if l.st.Treasury > math.MaxUint64-amount {
		return nil, errorsmod.Wrap(ErrInvalidRequest, "treasury overflow")
	}
	l.st.Treasury += amount

	if _, err := l.credit(caller, points); err != nil {
		return nil, err
	}
	return []abci.Event{Event(EventTypePointsPurchased, map[string]string{
		"user":   caller,
		"amount": u64s(amount),
		"points": u64s(points),
	})}, nil
}

// Withdraw moves the collected payments to the owner's bank account.
func (l *Ledger) Withdraw(caller string) ([]abci.Event, error) {
	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}
	amount := l.st.Treasury
	if amount == 0 {
		return nil, ErrNoBalanceToWithdraw
	}
	if err := l.st.Credit(caller, amount); err != nil {
		return nil, errorsmod.Wrap(ErrInvalidRequest, err.Error())
	}
	l.st.Treasury = 0
	return []abci.Event{Event(EventTypeTreasuryWithdrawn, map[string]string{
		"to":     caller,
		"amount": u64s(amount),
	})}, nil
}
