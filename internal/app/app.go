// Package app is the cipherbet CometBFT ABCI application.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/codec"
	"cipherbet/internal/coprocessor"
	"cipherbet/internal/eventsink"
	"cipherbet/internal/fhe"
	"cipherbet/internal/metrics"
	"cipherbet/internal/state"
)

const (
	AppVersion uint64 = 1

	ciphertextFile = "ciphertexts.json"
	publishTimeout = 5 * time.Second
)

type CipherbetApp struct {
	*abci.BaseApplication

	home    string
	logger  log.Logger
	metrics *metrics.Metrics
	sink    eventsink.Sink

	mu       sync.Mutex
	st       *state.State
	cop      *coprocessor.Coprocessor
	alg      *fhe.Algebra
	lastHash []byte
	// Events of the last finalized block, published on Commit.
	pending []eventsink.Record
}

type Option func(*CipherbetApp)

func WithLogger(l log.Logger) Option {
	return func(a *CipherbetApp) { a.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *CipherbetApp) { a.metrics = m }
}

func WithSink(s eventsink.Sink) Option {
	return func(a *CipherbetApp) { a.sink = s }
}

// New loads state and the ciphertext store from <home>/app. dec is the
// committee view the reference coprocessor uses for non-linear operations.
func New(home string, networkKey betcrypto.Point, dec coprocessor.Decrypter, opts ...Option) (*CipherbetApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	cop := coprocessor.New(networkKey, dec)
	if err := cop.Load(filepath.Join(appHome, ciphertextFile)); err != nil {
		return nil, err
	}
	a := &CipherbetApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		logger:          log.NewNopLogger(),
		metrics:         metrics.New(),
		sink:            eventsink.Nop(),
		st:              st,
		cop:             cop,
		alg:             fhe.NewAlgebra(cop),
		lastHash:        st.AppHash(),
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("module", "app")
	return a, nil
}

func (a *CipherbetApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "cipherbet",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *CipherbetApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	env, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		res := txError(err)
		return &abci.CheckTxResponse{Codespace: res.Codespace, Code: res.Code, Log: res.Log}, nil
	}
	if env.Signer != "" {
		if err := requireSignedEnvelope(env); err != nil {
			res := txError(err)
			return &abci.CheckTxResponse{Codespace: res.Codespace, Code: res.Code, Log: res.Log}, nil
		}
	}
	// Auth and nonces are checked at delivery against the staged state.
	return &abci.CheckTxResponse{Code: 0}, nil
}

// GenesisState is the app_state of the genesis document.
type GenesisState struct {
	Params   state.Params      `json:"params"`
	Accounts map[string]uint64 `json:"accounts,omitempty"`
}

func (a *CipherbetApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var gen GenesisState
	if len(req.AppStateBytes) > 0 {
		if err := json.Unmarshal(req.AppStateBytes, &gen); err != nil {
			return nil, fmt.Errorf("decode app_state: %w", err)
		}
	}
	p := gen.Params
	p.ChainID = req.ChainId
	if p.Owner == "" {
		return nil, fmt.Errorf("genesis: missing params.owner")
	}
	if err := p.Oracle.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	pk := a.cop.PublicKey().Bytes()
	if len(p.NetworkKey) == 0 {
		p.NetworkKey = pk
	} else if string(p.NetworkKey) != string(pk) {
		return nil, fmt.Errorf("genesis: network key does not match the configured committee")
	}
	if p.BetUnit == 0 {
		p.BetUnit = state.DefaultBetUnit
	}
	if p.PointsRate == 0 {
		p.PointsRate = state.DefaultPointsRate
	}

	st := state.NewState()
	st.Params = p
	for addr, amt := range gen.Accounts {
		if err := st.Credit(addr, amt); err != nil {
			return nil, fmt.Errorf("genesis account %s: %w", addr, err)
		}
	}
	a.st = st
	a.lastHash = st.AppHash()
	a.logger.Info("init chain", "chain_id", p.ChainID, "owner", p.Owner, "oracle_threshold", p.Oracle.Threshold)
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func (a *CipherbetApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := req.Time.Unix()
	a.st.Height = req.Height
	a.st.Time = now

	a.pending = a.pending[:0]
	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for i, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, now)
		if res.Code == 0 {
			a.pending = append(a.pending, eventsink.NewRecords(req.Height, i, res.Events)...)
		}
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()
	a.metrics.BlockHeight.Set(float64(req.Height))
	a.metrics.PendingRequests.Set(float64(len(a.st.PendingRequests())))
	a.metrics.CiphertextStore.Set(float64(a.cop.Len()))

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *CipherbetApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		return nil, err
	}
	if err := a.cop.Save(filepath.Join(appHome, ciphertextFile)); err != nil {
		return nil, fmt.Errorf("save ciphertexts: %w", err)
	}
	a.logger.Info("committed block", "height", a.st.Height, "events", len(a.pending), "app_hash", fmt.Sprintf("%X", a.lastHash))

	if len(a.pending) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		// Observers are best effort; consensus does not wait on them.
		if err := a.sink.Publish(ctx, a.pending); err != nil {
			a.logger.Error("publish events", "height", a.st.Height, "err", err)
		}
		a.pending = a.pending[:0]
	}
	return &abci.CommitResponse{}, nil
}
