// Package ledger is the confidential wagering state machine. A Ledger is
// built per transaction over the staged store; every operation either
// returns the events to emit or a registered error, and the caller discards
// the staged store on error.
package ledger

import (
	"math"

	errorsmod "cosmossdk.io/errors"

	"cipherbet/internal/fhe"
	"cipherbet/internal/state"
)

type Ledger struct {
	st  *state.State
	alg *fhe.Algebra
	now int64
}

func New(st *state.State, alg *fhe.Algebra, now int64) *Ledger {
	return &Ledger{st: st, alg: alg, now: now}
}

// requireOwner is the single authorization gate for owner-only operations.
func (l *Ledger) requireOwner(caller string) error {
	if caller == "" || l.st.Params.Owner == "" || caller != l.st.Params.Owner {
		return errorsmod.Wrapf(ErrUnauthorized, "caller %q is not the owner", caller)
	}
	return nil
}

func (l *Ledger) match(id uint64) (*state.Match, *state.MatchAggregate, error) {
	m, ok := l.st.Matches[id]
	if !ok {
		return nil, nil, errorsmod.Wrapf(ErrBadMatchID, "match %d", id)
	}
	agg, ok := l.st.Aggregates[id]
	if !ok {
		return nil, nil, errorsmod.Wrapf(ErrInvalidRequest, "match %d has no aggregate", id)
	}
	return m, agg, nil
}

// fheErr wraps an algebra failure; those are internal, never user-caused.
func fheErr(err error, what string) error {
	return errorsmod.Wrapf(ErrInvalidRequest, "%s: %v", what, err)
}

func (l *Ledger) zero32() (fhe.Handle, error) {
	h, err := l.alg.Trivial(0, fhe.Uint32)
	if err != nil {
		return fhe.Handle{}, fheErr(err, "zero")
	}
	return h, nil
}

// credit adds a public amount of points to addr's balance, creating the
// balance on first credit, and grants addr view on the result. Amounts wider
// than a uint32 constant are added in uint32 chunks; the ciphertext sum does
// not wrap.
func (l *Ledger) credit(addr string, points uint64) (fhe.Handle, error) {
	bal, ok := l.st.Points[addr]
	for first := true; first || points > 0; first = false {
		chunk := min(points, math.MaxUint32)
		points -= chunk
		add, err := l.alg.Trivial(chunk, fhe.Uint32)
		if err != nil {
			return fhe.Handle{}, fheErr(err, "credit")
		}
		if !ok {
			bal, ok = add, true
			continue
		}
		if bal, err = l.alg.Add(bal, add); err != nil {
			return fhe.Handle{}, fheErr(err, "credit")
		}
	}
	l.st.Points[addr] = bal
	l.st.Grant(bal, addr)
	return bal, nil
}
