package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"

	"cipherbet/internal/fhe"
	"cipherbet/internal/ledger"
	"cipherbet/internal/state"
)

type MatchView struct {
	*state.Match
	Phase string `json:"phase"`
}

type PointsView struct {
	Addr    string     `json:"addr"`
	Balance fhe.Handle `json:"balance"`
	Exists  bool       `json:"exists"`
}

// Query paths:
//
//	/params
//	/matches
//	/match/<id>
//	/aggregate/<id>
//	/bet/<id>/<addr>
//	/points/<addr>
//	/account/<addr>
//	/requests/pending
//	/request/<id>
//	/grants/<handle>
//	/ciphertext/<handle>
func (a *CipherbetApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, err := a.query(strings.TrimSpace(req.Path))
	if err != nil {
		space, code, msg := errorsmod.ABCIInfo(err, false)
		return &abci.QueryResponse{Codespace: space, Code: code, Log: msg, Height: a.st.Height}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode query %s: %w", req.Path, err)
	}
	return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
}

func (a *CipherbetApp) query(path string) (any, error) {
	st := a.st
	switch {
	case path == "/params":
		return st.Params, nil

	case path == "/matches":
		out := make([]MatchView, 0, len(st.Matches))
		for _, m := range st.MatchList() {
			out = append(out, MatchView{Match: m, Phase: m.Phase(st.Time, st.Aggregates[m.ID])})
		}
		return out, nil

	case strings.HasPrefix(path, "/match/"):
		id, err := parseID(strings.TrimPrefix(path, "/match/"))
		if err != nil {
			return nil, err
		}
		m, ok := st.Matches[id]
		if !ok {
			return nil, errorsmod.Wrapf(ledger.ErrBadMatchID, "match %d", id)
		}
		return MatchView{Match: m, Phase: m.Phase(st.Time, st.Aggregates[id])}, nil

	case strings.HasPrefix(path, "/aggregate/"):
		id, err := parseID(strings.TrimPrefix(path, "/aggregate/"))
		if err != nil {
			return nil, err
		}
		agg, ok := st.Aggregates[id]
		if !ok {
			return nil, errorsmod.Wrapf(ledger.ErrBadMatchID, "match %d", id)
		}
		return agg, nil

	case strings.HasPrefix(path, "/bet/"):
		parts := strings.SplitN(strings.TrimPrefix(path, "/bet/"), "/", 2)
		if len(parts) != 2 || parts[1] == "" {
			return nil, errorsmod.Wrap(ledger.ErrInvalidRequest, "want /bet/<matchId>/<addr>")
		}
		id, err := parseID(parts[0])
		if err != nil {
			return nil, err
		}
		bet := st.Bet(id, parts[1])
		if bet == nil {
			return nil, errorsmod.Wrapf(ledger.ErrNoBet, "match %d user %s", id, parts[1])
		}
		return bet, nil

	case strings.HasPrefix(path, "/points/"):
		addr := strings.TrimPrefix(path, "/points/")
		h, ok := st.Points[addr]
		return PointsView{Addr: addr, Balance: h, Exists: ok}, nil

	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		return map[string]any{"addr": addr, "balance": st.Balance(addr), "nonce": st.NonceMax[addr]}, nil

	case path == "/requests/pending":
		return st.PendingRequests(), nil

	case strings.HasPrefix(path, "/request/"):
		id, err := parseID(strings.TrimPrefix(path, "/request/"))
		if err != nil {
			return nil, err
		}
		r, ok := st.Requests[id]
		if !ok {
			return nil, errorsmod.Wrapf(ledger.ErrUnknownRequest, "request %d", id)
		}
		return r, nil

	case strings.HasPrefix(path, "/grants/"):
		h, err := fhe.ParseHandle(strings.TrimPrefix(path, "/grants/"))
		if err != nil {
			return nil, errorsmod.Wrap(ledger.ErrInvalidRequest, err.Error())
		}
		addrs := st.Grants[h]
		if addrs == nil {
			addrs = []string{}
		}
		return addrs, nil

	case strings.HasPrefix(path, "/ciphertext/"):
		h, err := fhe.ParseHandle(strings.TrimPrefix(path, "/ciphertext/"))
		if err != nil {
			return nil, errorsmod.Wrap(ledger.ErrInvalidRequest, err.Error())
		}
		ct, err := a.cop.Ciphertext(h)
		if err != nil {
			return nil, errorsmod.Wrap(ledger.ErrInvalidRequest, err.Error())
		}
		return ct.Bytes(), nil

	default:
		return nil, errorsmod.Wrapf(ledger.ErrInvalidRequest, "unknown query path %q", path)
	}
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errorsmod.Wrapf(ledger.ErrInvalidRequest, "invalid id %q", raw)
	}
	return id, nil
}

func u64s(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func u32s(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
