package app

import (
	"encoding/json"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"

	"cipherbet/internal/codec"
	"cipherbet/internal/ledger"
	"cipherbet/internal/state"
)

// deliverTx runs one transaction against a staged copy of the state and
// swaps it in only on success.
func (a *CipherbetApp) deliverTx(txBytes []byte, now int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		a.metrics.Txs.WithLabelValues("invalid", "2").Inc()
		return txError(errorsmod.Wrap(ledger.ErrInvalidRequest, err.Error()))
	}
	staged, err := a.st.Clone()
	if err != nil {
		return txError(err)
	}

	evs, err := a.execute(staged, env, now)
	if err != nil {
		res := txError(err)
		a.metrics.Txs.WithLabelValues(env.Type, u32s(res.Code)).Inc()
		a.logger.Debug("tx rejected", "type", env.Type, "signer", env.Signer, "code", res.Code, "log", res.Log)
		return res
	}
	a.st = staged
	a.metrics.Txs.WithLabelValues(env.Type, "0").Inc()
	a.observe(evs)
	return &abci.ExecTxResult{Code: 0, Events: evs}
}

func decodeValue(env codec.TxEnvelope, v any) error {
	if err := json.Unmarshal(env.Value, v); err != nil {
		return errorsmod.Wrapf(ledger.ErrInvalidRequest, "bad %s value: %v", env.Type, err)
	}
	return nil
}

func (a *CipherbetApp) execute(st *state.State, env codec.TxEnvelope, now int64) ([]abci.Event, error) {
	l := ledger.New(st, a.alg, now)

	switch env.Type {
	case codec.TypeBankMint:
		if !st.Params.Faucet {
			return nil, errorsmod.Wrap(ledger.ErrUnauthorized, "bank mint is disabled on this chain")
		}
		var msg codec.BankMintTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if msg.To == "" || msg.Amount == 0 {
			return nil, errorsmod.Wrap(ledger.ErrInvalidRequest, "missing to/amount")
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return nil, errorsmod.Wrap(ledger.ErrInvalidRequest, err.Error())
		}
		return []abci.Event{ledger.Event("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": u64s(msg.Amount),
		})}, nil

	case codec.TypeRegisterAccount:
		var msg codec.AuthRegisterAccountTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if err := requireRegisterAccountAuth(st, env, msg); err != nil {
			return nil, err
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return []abci.Event{ledger.Event("AccountRegistered", map[string]string{
			"account": msg.Account,
		})}, nil

	case codec.TypeBuyPoints:
		var msg codec.BuyPointsTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if err := requireAccountAuth(st, env, msg.Buyer); err != nil {
			return nil, err
		}
		return l.BuyPoints(msg.Buyer, msg.Amount)

	case codec.TypeWithdraw:
		var msg codec.WithdrawTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if err := requireAccountAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		return l.Withdraw(msg.Caller)

	case codec.TypeCreateMatch:
		var msg codec.CreateMatchTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if err := requireAccountAuth(st, env, msg.Creator); err != nil {
			return nil, err
		}
		_, evs, err := l.CreateMatch(msg.Creator, ledger.CreateMatchParams{
			HomeTeam:     msg.HomeTeam,
			AwayTeam:     msg.AwayTeam,
			Name:         msg.Name,
			BettingStart: msg.BettingStart,
			BettingEnd:   msg.BettingEnd,
			MatchTime:    msg.MatchTime,
		})
		return evs, err

	case codec.TypeFinishMatch:
		var msg codec.FinishMatchTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if err := requireAccountAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		return l.FinishMatch(msg.Caller, msg.MatchID, state.Result(msg.Result))

	case codec.TypePlaceBet:
		var msg codec.PlaceBetTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if err := requireAccountAuth(st, env, msg.Bettor); err != nil {
			return nil, err
		}
		return l.PlaceBet(msg.Bettor, msg.MatchID, msg.Input)

	case codec.TypeSettleBet:
		var msg codec.SettleBetTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if err := requireAccountAuth(st, env, msg.Bettor); err != nil {
			return nil, err
		}
		_, evs, err := l.SettleBet(msg.Bettor, msg.MatchID)
		return evs, err

	case codec.TypeRequestTotals:
		// Permissionless; a signed request still goes through auth.
		var msg codec.RequestTotalsTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		if env.Signer != "" {
			if err := requireAccountAuth(st, env, msg.Caller); err != nil {
				return nil, err
			}
		}
		_, evs, err := l.RequestDecryptMatchTotals(msg.MatchID)
		return evs, err

	case codec.TypeFulfillTotals:
		var msg codec.FulfillTotalsTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		return l.FulfillMatchTotals(msg.RequestID, ledger.Totals{
			Home:  msg.Home,
			Away:  msg.Away,
			Draw:  msg.Draw,
			Total: msg.Total,
		}, msg.Signatures)

	case codec.TypeFulfillUserBet:
		var msg codec.FulfillUserBetTx
		if err := decodeValue(env, &msg); err != nil {
			return nil, err
		}
		return l.FulfillUserBet(msg.RequestID, msg.Value, msg.Signatures)

	default:
		return nil, errorsmod.Wrapf(ledger.ErrInvalidRequest, "unknown tx type: %s", env.Type)
	}
}

// txError maps err to its registered (codespace, code). Errors outside the
// cipherbet codespace are reported as InvalidRequest.
func txError(err error) *abci.ExecTxResult {
	space, code, msg := errorsmod.ABCIInfo(err, false)
	if space != ledger.ModuleName {
		space, code, msg = errorsmod.ABCIInfo(errorsmod.Wrap(ledger.ErrInvalidRequest, err.Error()), false)
	}
	return &abci.ExecTxResult{Codespace: space, Code: code, Log: msg}
}

func (a *CipherbetApp) observe(evs []abci.Event) {
	for i := range evs {
		ev := &evs[i]
		switch ev.Type {
		case ledger.EventTypeBetPlaced:
			a.metrics.BetsPlaced.Inc()
		case ledger.EventTypeDecryptionRequested:
			a.metrics.Requests.WithLabelValues(attr(ev, "kind")).Inc()
			a.logger.Info("decryption requested", "request_id", attr(ev, "requestId"), "match_id", attr(ev, "matchId"))
		case ledger.EventTypeUserDecryptionRequested:
			a.metrics.Requests.WithLabelValues("user_bet").Inc()
			a.logger.Info("settlement requested", "request_id", attr(ev, "requestId"), "match_id", attr(ev, "matchId"), "user", attr(ev, "user"))
		case ledger.EventTypeDecryptionFulfilled:
			a.metrics.Fulfilled.WithLabelValues(attr(ev, "kind")).Inc()
			a.logger.Info("decryption fulfilled", "request_id", attr(ev, "requestId"), "kind", attr(ev, "kind"))
		}
	}
}

func attr(ev *abci.Event, key string) string {
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}
