package ledger

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	abci "github.com/cometbft/cometbft/abci/types"

	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
	"cipherbet/internal/state"
)

// newRequest records an outstanding oracle request. Requests never expire.
func (l *Ledger) newRequest(kind oracle.Kind, matchID uint64, user string, handles []fhe.Handle) *state.DecryptionRequest {
	id := l.st.NextRequestID
	l.st.NextRequestID++
	req := &state.DecryptionRequest{
		ID:          id,
		Kind:        kind,
		MatchID:     matchID,
		User:        user,
		Handles:     handles,
		RequestedAt: l.now,
	}
	l.st.Requests[id] = req
	return req
}

// outstanding resolves a callback's request id, in callback check order:
// unknown (or other kind), already fulfilled, then the signature set.
func (l *Ledger) outstanding(id uint64, kind oracle.Kind, values []uint64, sigs []oracle.Signature) (*state.DecryptionRequest, error) {
	req, ok := l.st.Requests[id]
	if !ok || req.Kind != kind {
		return nil, errorsmod.Wrapf(ErrUnknownRequest, "request %d (%s)", id, kind)
	}
	if req.Fulfilled {
		return nil, errorsmod.Wrapf(ErrAlreadyFulfilled, "request %d", id)
	}
	f := oracle.Fulfillment{ChainID: l.st.Params.ChainID, RequestID: id, Kind: kind, Values: values}
	if err := l.st.Params.Oracle.Verify(f, sigs); err != nil {
		if errors.Is(err, oracle.ErrBadSignatures) {
			return nil, errorsmod.Wrap(ErrBadSignatures, err.Error())
		}
		return nil, errorsmod.Wrap(ErrInvalidRequest, err.Error())
	}
	return req, nil
}

// RequestDecryptMatchTotals issues a ticket for the four aggregate handles.
// Several tickets may be outstanding at once; each is answered independently.
func (l *Ledger) RequestDecryptMatchTotals(id uint64) (uint64, []abci.Event, error) {
	m, agg, err := l.match(id)
	if err != nil {
		return 0, nil, err
	}
	if !m.IsFinished && l.now <= m.BettingEnd {
		return 0, nil, errorsmod.Wrapf(ErrBettingStillOpen, "betting ends at %d", m.BettingEnd)
	}
	if agg.IsTotalDecrypted {
		return 0, nil, errorsmod.Wrapf(ErrAlreadyFulfilled, "match %d totals already decrypted", id)
	}
	req := l.newRequest(oracle.KindMatchTotals, id, "", []fhe.Handle{
		agg.HomeWinTotal, agg.AwayWinTotal, agg.DrawTotal, agg.TotalAmount,
	})
	return req.ID, []abci.Event{Event(EventTypeDecryptionRequested, map[string]string{
		"requestId": u64s(req.ID),
		"matchId":   u64s(id),
		"kind":      req.Kind.String(),
	})}, nil
}

type Totals struct {
	Home  uint64
	Away  uint64
	Draw  uint64
	Total uint64
}

func (l *Ledger) FulfillMatchTotals(requestID uint64, t Totals, sigs []oracle.Signature) ([]abci.Event, error) {
	values := []uint64{t.Home, t.Away, t.Draw, t.Total}
	req, err := l.outstanding(requestID, oracle.KindMatchTotals, values, sigs)
	if err != nil {
		return nil, err
	}
	sum := sdkmath.NewUint(t.Home).Add(sdkmath.NewUint(t.Away)).Add(sdkmath.NewUint(t.Draw))
	if !sum.Equal(sdkmath.NewUint(t.Total)) {
		return nil, errorsmod.Wrapf(ErrInvalidRequest, "totals do not add up: %d+%d+%d != %d", t.Home, t.Away, t.Draw, t.Total)
	}
	_, agg, err := l.match(req.MatchID)
	if err != nil {
		return nil, err
	}
	// A second ticket for the same match writes the same target.
	agg.IsTotalDecrypted = true
	agg.DecryptedHomeWinTotal = t.Home
	agg.DecryptedAwayWinTotal = t.Away
	agg.DecryptedDrawTotal = t.Draw
	agg.DecryptedTotalAmount = t.Total
	req.Fulfilled = true
	req.Values = values

	return []abci.Event{
		Event(EventTypeDecryptionFulfilled, map[string]string{
			"requestId": u64s(requestID),
			"kind":      req.Kind.String(),
		}),
		Event(EventTypeMatchTotalsDecrypted, map[string]string{
			"matchId": u64s(req.MatchID),
			"home":    u64s(t.Home),
			"away":    u64s(t.Away),
			"draw":    u64s(t.Draw),
			"total":   u64s(t.Total),
		}),
	}, nil
}
