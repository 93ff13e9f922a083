package ledger

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"

	"cipherbet/internal/fhe"
	"cipherbet/internal/state"
)

// PlaceBet folds an encrypted (direction, amount) pair into the match pools.
//
// Nothing branches on the encrypted values: a bet with a direction outside
// {1,2,3} or a cost above the balance becomes a 0-unit stake, and the slot is
// still taken.
func (l *Ledger) PlaceBet(caller string, id uint64, in fhe.ExternalInput) ([]abci.Event, error) {
	if caller == "" {
		return nil, errorsmod.Wrap(ErrInvalidRequest, "missing bettor")
	}
	m, agg, err := l.match(id)
	if err != nil {
		return nil, err
	}
	if l.now < m.BettingStart {
		return nil, errorsmod.Wrapf(ErrNotOpen, "betting opens at %d", m.BettingStart)
	}
	if l.now > m.BettingEnd || m.IsFinished {
		return nil, errorsmod.Wrapf(ErrClosed, "betting closed at %d", m.BettingEnd)
	}
	if l.st.Bet(id, caller) != nil {
		return nil, errorsmod.Wrapf(ErrDuplicateBet, "match %d user %s", id, caller)
	}
	if len(in.Types) != 2 || in.Types[0] != fhe.Uint8 || in.Types[1] != fhe.Uint32 {
		return nil, errorsmod.Wrap(ErrInvalidProof, "input must be (euint8 direction, euint32 amount)")
	}
	hs, err := l.alg.FromExternal(in, fhe.Binding{ChainID: l.st.Params.ChainID, Caller: caller})
	if err != nil {
		if errors.Is(err, fhe.ErrInvalidInput) {
			return nil, errorsmod.Wrap(ErrInvalidProof, err.Error())
		}
		return nil, fheErr(err, "input")
	}
	dir, amount := hs[0], hs[1]

	f := opChain{alg: l.alg}
	zero := f.trivial(0)
	balance, funded := l.st.Points[caller]
	if !funded {
		balance = zero
	}
	cost := f.mulConst(amount, l.st.Params.BetUnit)
	isHome := f.eqConst(dir, uint64(state.ResultHomeWin))
	isAway := f.eqConst(dir, uint64(state.ResultAwayWin))
	isDraw := f.eqConst(dir, uint64(state.ResultDraw))
	valid := f.or(isHome, f.or(isAway, isDraw))
	ok := f.and(valid, f.ge(balance, cost))

	stake := f.sel(ok, amount, zero)
	newBalance := f.sub(balance, f.sel(ok, cost, zero))
	home := f.add(agg.HomeWinTotal, f.sel(isHome, stake, zero))
	away := f.add(agg.AwayWinTotal, f.sel(isAway, stake, zero))
	draw := f.add(agg.DrawTotal, f.sel(isDraw, stake, zero))
	total := f.add(agg.TotalAmount, stake)
	if f.err != nil {
		return nil, fheErr(f.err, "fold bet")
	}

	agg.HomeWinTotal, agg.AwayWinTotal, agg.DrawTotal, agg.TotalAmount = home, away, draw, total
	// Without a prior credit the debit is always zero; the balance stays absent.
	if funded {
		l.st.Points[caller] = newBalance
		l.st.Grant(newBalance, caller)
	}
	l.st.Bets[state.BetKey(id, caller)] = &state.UserBet{
		MatchID:   id,
		User:      caller,
		Direction: dir,
		Amount:    stake,
	}
	l.st.Grant(dir, caller)
	l.st.Grant(amount, caller)
	l.st.Grant(stake, caller)

	return []abci.Event{Event(EventTypeBetPlaced, map[string]string{
		"matchId": u64s(id),
		"user":    caller,
	})}, nil
}

// opChain runs a sequence of algebra calls and keeps the first error.
type opChain struct {
	alg *fhe.Algebra
	err error
}

func (f *opChain) do(op func() (fhe.Handle, error)) fhe.Handle {
	if f.err != nil {
		return fhe.Handle{}
	}
	h, err := op()
	if err != nil {
		f.err = err
	}
	return h
}

func (f *opChain) trivial(v uint64) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.Trivial(v, fhe.Uint32) })
}

func (f *opChain) add(a, b fhe.Handle) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.Add(a, b) })
}

func (f *opChain) sub(a, b fhe.Handle) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.Sub(a, b) })
}

func (f *opChain) mulConst(a fhe.Handle, k uint64) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.MulConst(a, k) })
}

func (f *opChain) eqConst(a fhe.Handle, k uint64) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.EqConst(a, k) })
}

func (f *opChain) ge(a, b fhe.Handle) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.Ge(a, b) })
}

func (f *opChain) and(a, b fhe.Handle) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.And(a, b) })
}

func (f *opChain) or(a, b fhe.Handle) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.Or(a, b) })
}

func (f *opChain) sel(c, a, b fhe.Handle) fhe.Handle {
	return f.do(func() (fhe.Handle, error) { return f.alg.Select(c, a, b) })
}
