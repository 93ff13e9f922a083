package ledger

import (
	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"

	"cipherbet/internal/state"
)

type CreateMatchParams struct {
	HomeTeam     string
	AwayTeam     string
	Name         string
	BettingStart int64
	BettingEnd   int64
	MatchTime    int64
}

func (l *Ledger) CreateMatch(caller string, p CreateMatchParams) (uint64, []abci.Event, error) {
	if err := l.requireOwner(caller); err != nil {
		return 0, nil, err
	}
	if p.BettingStart >= p.BettingEnd || p.BettingEnd > p.MatchTime {
		return 0, nil, errorsmod.Wrapf(ErrInvalidWindow, "start=%d end=%d matchTime=%d", p.BettingStart, p.BettingEnd, p.MatchTime)
	}
	if p.BettingStart <= l.now {
		return 0, nil, errorsmod.Wrapf(ErrNotFuture, "start=%d now=%d", p.BettingStart, l.now)
	}
	zero, err := l.zero32()
	if err != nil {
		return 0, nil, err
	}

	id := l.st.NextMatchID
	l.st.NextMatchID++
	l.st.Matches[id] = &state.Match{
		ID:           id,
		HomeTeam:     p.HomeTeam,
		AwayTeam:     p.AwayTeam,
		Name:         p.Name,
		BettingStart: p.BettingStart,
		BettingEnd:   p.BettingEnd,
		MatchTime:    p.MatchTime,
		Creator:      caller,
		CreatedAt:    l.now,
		IsActive:     true,
	}
	l.st.Aggregates[id] = &state.MatchAggregate{
		MatchID:      id,
		HomeWinTotal: zero,
		AwayWinTotal: zero,
		DrawTotal:    zero,
		TotalAmount:  zero,
	}

	return id, []abci.Event{Event(EventTypeMatchCreated, map[string]string{
		"matchId":      u64s(id),
		"homeTeam":     p.HomeTeam,
		"awayTeam":     p.AwayTeam,
		"name":         p.Name,
		"bettingStart": i64s(p.BettingStart),
		"bettingEnd":   i64s(p.BettingEnd),
		"matchTime":    i64s(p.MatchTime),
	})}, nil
}

func (l *Ledger) FinishMatch(caller string, id uint64, result state.Result) ([]abci.Event, error) {
	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}
	m, _, err := l.match(id)
	if err != nil {
		return nil, err
	}
	if l.now < m.BettingEnd {
		return nil, errorsmod.Wrapf(ErrBettingStillOpen, "betting ends at %d", m.BettingEnd)
	}
	if !result.Valid() {
		return nil, errorsmod.Wrapf(ErrInvalidResult, "result %d", result)
	}
	if m.IsFinished {
		return nil, errorsmod.Wrapf(ErrAlreadyFinished, "match %d", id)
	}
	m.IsFinished = true
	m.Result = result

	return []abci.Event{Event(EventTypeMatchFinished, map[string]string{
		"matchId": u64s(id),
		"result":  result.String(),
	})}, nil
}
