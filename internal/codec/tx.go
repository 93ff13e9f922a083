package codec

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
)

// TxEnvelope is the transaction container. CometBFT transactions are opaque
// bytes; cipherbet uses JSON envelopes.
type TxEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// Signed txs carry a per-signer strictly increasing nonce and an Ed25519
	// signature over SignBytes. Oracle callbacks are unsigned.
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	env := TxEnvelope{}
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("codec: decode envelope: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, errors.New("codec: envelope has no type")
	}
	return env, nil
}

const txAuthDomain = "cipherbet/tx/v1"

// SignBytes joins domain, type, nonce and signer with NUL separators and
// appends sha256(value).
func SignBytes(typ string, value []byte, nonce string, signer string) []byte {
	var out []byte
	for _, f := range []string{txAuthDomain, typ, nonce, signer} {
		out = append(append(out, f...), 0)
	}
	digest := sha256.Sum256(value)
	return append(out, digest[:]...)
}

// EncodeSigned builds a signed envelope for value.
func EncodeSigned(priv ed25519.PrivateKey, typ string, value any, nonce uint64, signer string) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", typ, err)
	}
	n := fmt.Sprintf("%d", nonce)
	env := TxEnvelope{
		Type:   typ,
		Value:  raw,
		Nonce:  n,
		Signer: signer,
		Sig:    ed25519.Sign(priv, SignBytes(typ, raw, n, signer)),
	}
	return json.Marshal(env)
}

// EncodeUnsigned builds an envelope without auth fields.
func EncodeUnsigned(typ string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", typ, err)
	}
	return json.Marshal(TxEnvelope{Type: typ, Value: raw})
}

const (
	TypeBankMint        = "bank/mint"
	TypeRegisterAccount = "auth/register_account"
	TypeBuyPoints       = "points/buy"
	TypeWithdraw        = "points/withdraw"
	TypeCreateMatch     = "match/create"
	TypeFinishMatch     = "match/finish"
	TypePlaceBet        = "bet/place"
	TypeSettleBet       = "bet/settle"
	TypeRequestTotals   = "oracle/request_totals"
	TypeFulfillTotals   = "oracle/fulfill_totals"
	TypeFulfillUserBet  = "oracle/fulfill_user_bet"
)

// BankMintTx is the devnet faucet for the plaintext payment currency.
type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // ed25519 public key
}

type BuyPointsTx struct {
	Buyer  string `json:"buyer"`
	Amount uint64 `json:"amount"` // payment in currency units
}

type WithdrawTx struct {
	Caller string `json:"caller"`
}

type CreateMatchTx struct {
	Creator      string `json:"creator"`
	HomeTeam     string `json:"homeTeam"`
	AwayTeam     string `json:"awayTeam"`
	Name         string `json:"name"`
	BettingStart int64  `json:"bettingStart"`
	BettingEnd   int64  `json:"bettingEnd"`
	MatchTime    int64  `json:"matchTime"`
}

type FinishMatchTx struct {
	Caller  string `json:"caller"`
	MatchID uint64 `json:"matchId"`
	Result  uint8  `json:"result"`
}

// PlaceBetTx carries two ciphertexts (direction euint8, amount euint32) and
// one validity proof bound to (chain, bettor).
type PlaceBetTx struct {
	Bettor  string            `json:"bettor"`
	MatchID uint64            `json:"matchId"`
	Input   fhe.ExternalInput `json:"input"`
}

type SettleBetTx struct {
	Bettor  string `json:"bettor"`
	MatchID uint64 `json:"matchId"`
}

type RequestTotalsTx struct {
	Caller  string `json:"caller,omitempty"`
	MatchID uint64 `json:"matchId"`
}

type FulfillTotalsTx struct {
	RequestID  uint64             `json:"requestId"`
	Home       uint64             `json:"home"`
	Away       uint64             `json:"away"`
	Draw       uint64             `json:"draw"`
	Total      uint64             `json:"total"`
	Signatures []oracle.Signature `json:"signatures"`
}

type FulfillUserBetTx struct {
	RequestID  uint64             `json:"requestId"`
	Value      uint64             `json:"value"`
	Signatures []oracle.Signature `json:"signatures"`
}
