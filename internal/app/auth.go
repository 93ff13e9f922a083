package app

import (
	"crypto/ed25519"
	"fmt"
	"strconv"

	errorsmod "cosmossdk.io/errors"

	"cipherbet/internal/codec"
	"cipherbet/internal/ledger"
	"cipherbet/internal/state"
)

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return errorsmod.Wrap(ledger.ErrUnauthorized, "missing tx.nonce")
	}
	if env.Signer == "" {
		return errorsmod.Wrap(ledger.ErrUnauthorized, "missing tx.signer")
	}
	if len(env.Sig) != ed25519.SignatureSize {
		return errorsmod.Wrapf(ledger.ErrUnauthorized, "invalid tx.sig length: got %d want %d", len(env.Sig), ed25519.SignatureSize)
	}
	return nil
}

// consumeNonce enforces a strictly increasing per-signer nonce. It writes the
// staged state, so a rejected tx does not burn its nonce.
func consumeNonce(st *state.State, env codec.TxEnvelope) error {
	n, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return errorsmod.Wrapf(ledger.ErrUnauthorized, "invalid tx.nonce %q", env.Nonce)
	}
	if last, ok := st.NonceMax[env.Signer]; ok && n <= last {
		return errorsmod.Wrapf(ledger.ErrUnauthorized, "replayed tx.nonce %d (last %d)", n, last)
	}
	st.NonceMax[env.Signer] = n
	return nil
}

func verifyEnvelope(pub ed25519.PublicKey, env codec.TxEnvelope) error {
	msg := codec.SignBytes(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(pub, msg, env.Sig) {
		return errorsmod.Wrap(ledger.ErrUnauthorized, "invalid signature")
	}
	return nil
}

func requireRegisterAccountAuth(st *state.State, env codec.TxEnvelope, msg codec.AuthRegisterAccountTx) error {
	if msg.Account == "" {
		return errorsmod.Wrap(ledger.ErrInvalidRequest, "missing account")
	}
	if len(msg.PubKey) != ed25519.PublicKeySize {
		return errorsmod.Wrapf(ledger.ErrInvalidRequest, "pubKey must be %d bytes", ed25519.PublicKeySize)
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != msg.Account {
		return errorsmod.Wrapf(ledger.ErrUnauthorized, "tx signer mismatch: signer=%q want=%q", env.Signer, msg.Account)
	}
	if err := verifyEnvelope(ed25519.PublicKey(msg.PubKey), env); err != nil {
		return err
	}
	if cur, ok := st.AccountKeys[msg.Account]; ok && string(cur) != string(msg.PubKey) {
		return errorsmod.Wrapf(ledger.ErrUnauthorized, "account %q already registered with another key", msg.Account)
	}
	return consumeNonce(st, env)
}

// requireAccountAuth checks that account signed env with its registered key
// and consumes the nonce.
func requireAccountAuth(st *state.State, env codec.TxEnvelope, account string) error {
	if st == nil {
		return fmt.Errorf("state is nil")
	}
	if account == "" {
		return errorsmod.Wrap(ledger.ErrInvalidRequest, "missing account")
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != account {
		return errorsmod.Wrapf(ledger.ErrUnauthorized, "tx signer mismatch: signer=%q want=%q", env.Signer, account)
	}
	pub := st.AccountKeys[account]
	if len(pub) != ed25519.PublicKeySize {
		return errorsmod.Wrapf(ledger.ErrUnauthorized, "account %q missing pubKey (auth/register_account required)", account)
	}
	if err := verifyEnvelope(ed25519.PublicKey(pub), env); err != nil {
		return err
	}
	return consumeNonce(st, env)
}
