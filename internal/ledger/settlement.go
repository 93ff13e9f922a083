package ledger

import (
	"math"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	abci "github.com/cometbft/cometbft/abci/types"

	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
)

// SettleBet claims caller's bet and asks the oracle for its payout basis.
//
// The basis is computed homomorphically: the stake if the bet is on the
// result (or if nobody backed the result, in which case every stake is
// refunded), otherwise 0. The caller never supplies direction or amount.
func (l *Ledger) SettleBet(caller string, id uint64) (uint64, []abci.Event, error) {
	m, agg, err := l.match(id)
	if err != nil {
		return 0, nil, err
	}
	if !m.IsFinished {
		return 0, nil, errorsmod.Wrapf(ErrNotFinished, "match %d", id)
	}
	bet := l.st.Bet(id, caller)
	if bet == nil {
		return 0, nil, errorsmod.Wrapf(ErrNoBet, "match %d user %s", id, caller)
	}
	if bet.HasSettled {
		return 0, nil, errorsmod.Wrapf(ErrAlreadySettled, "match %d user %s", id, caller)
	}
	if !agg.IsTotalDecrypted {
		return 0, nil, errorsmod.Wrapf(ErrTotalsNotDecrypted, "match %d", id)
	}

	refund := agg.WinPool(m.Result) == 0
	reveal := bet.Amount
	if !refund {
		f := opChain{alg: l.alg}
		won := f.eqConst(bet.Direction, uint64(m.Result))
		reveal = f.sel(won, bet.Amount, f.trivial(0))
		if f.err != nil {
			return 0, nil, fheErr(f.err, "settle")
		}
	}

	req := l.newRequest(oracle.KindUserBet, id, caller, []fhe.Handle{reveal})
	bet.HasSettled = true
	bet.Reveal = reveal
	bet.Refund = refund
	bet.RequestID = req.ID
	l.st.Grant(reveal, caller)

	return req.ID, []abci.Event{Event(EventTypeUserDecryptionRequested, map[string]string{
		"requestId": u64s(req.ID),
		"matchId":   u64s(id),
		"user":      caller,
	})}, nil
}

// Payout is the exact settlement amount in points, rounded down:
//
//	refund: value*betUnit
//	else:   value*betUnit*totalPool/winPool
func Payout(value, betUnit, totalPool, winPool uint64, refund bool) sdkmath.Uint {
	p := sdkmath.NewUint(value).Mul(sdkmath.NewUint(betUnit))
	if refund || winPool == 0 {
		return p
	}
	return p.Mul(sdkmath.NewUint(totalPool)).Quo(sdkmath.NewUint(winPool))
}

// FulfillUserBet applies the oracle's answer to a settlement request and
// credits the payout.
func (l *Ledger) FulfillUserBet(requestID uint64, value uint64, sigs []oracle.Signature) ([]abci.Event, error) {
	req, err := l.outstanding(requestID, oracle.KindUserBet, []uint64{value}, sigs)
	if err != nil {
		return nil, err
	}
	m, agg, err := l.match(req.MatchID)
	if err != nil {
		return nil, err
	}
	bet := l.st.Bet(req.MatchID, req.User)
	if bet == nil || bet.RequestID != requestID {
		return nil, errorsmod.Wrapf(ErrInvalidRequest, "request %d has no matching bet", requestID)
	}
	winPool := agg.WinPool(m.Result)
	if !bet.Refund && value > winPool {
		return nil, errorsmod.Wrapf(ErrInvalidRequest, "winning stake %d exceeds pool %d", value, winPool)
	}

	payout := Payout(value, l.st.Params.BetUnit, agg.DecryptedTotalAmount, winPool, bet.Refund)
	// Stakes are uint32 and pools are sums of stakes, so this needs a pool
	// beyond what a chain can accumulate.
	if payout.GT(sdkmath.NewUint(math.MaxUint64)) {
		return nil, errorsmod.Wrapf(ErrPayoutOverflow, "payout %s", payout)
	}
	amount := payout.Uint64()
	if amount > 0 {
		if _, err := l.credit(req.User, amount); err != nil {
			return nil, err
		}
	}
	bet.IsDecrypted = true
	bet.Payout = amount
	req.Fulfilled = true
	req.Values = []uint64{value}

	return []abci.Event{
		Event(EventTypeDecryptionFulfilled, map[string]string{
			"requestId": u64s(requestID),
			"kind":      req.Kind.String(),
		}),
		Event(EventTypeBetSettled, map[string]string{
			"matchId": u64s(req.MatchID),
			"user":    req.User,
			"payout":  u64s(amount),
		}),
	}, nil
}
