// Package relayer drives the oracle side of the decryption protocol: it
// polls the ledger for outstanding requests, decrypts the referenced handles
// with the committee and submits the signed callback transactions.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/log"
	"golang.org/x/sync/errgroup"

	"cipherbet/internal/betcrypto"
	"cipherbet/internal/codec"
	"cipherbet/internal/fhe"
	"cipherbet/internal/kms"
	"cipherbet/internal/metrics"
	"cipherbet/internal/oracle"
	"cipherbet/internal/state"
)

// Node is the slice of a ledger node the relayer talks to.
type Node interface {
	Query(ctx context.Context, path string) ([]byte, error)
	Broadcast(ctx context.Context, tx []byte) error
}

// ErrAlreadyFulfilled is returned by a Node when the ledger rejected a
// callback because another submission won the race.
var ErrAlreadyFulfilled = errors.New("relayer: request already fulfilled")

type Config struct {
	ChainID       string
	PollInterval  time.Duration
	ResubmitAfter time.Duration
	Workers       int
}

func (c *Config) fillDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ResubmitAfter <= 0 {
		c.ResubmitAfter = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

type Relayer struct {
	node      Node
	committee *kms.Committee
	cfg       Config
	logger    log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu sync.Mutex
	// request id -> time of the last submission still awaiting inclusion
	inflight map[uint64]time.Time
}

func New(node Node, committee *kms.Committee, cfg Config, logger log.Logger, m *metrics.Metrics) *Relayer {
	cfg.fillDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Relayer{
		node:      node,
		committee: committee,
		cfg:       cfg,
		logger:    logger.With("module", "relayer"),
		metrics:   m,
		now:       time.Now,
		inflight:  map[uint64]time.Time{},
	}
}

// Run polls until ctx is done.
func (r *Relayer) Run(ctx context.Context) error {
	if r.cfg.ChainID == "" {
		var p state.Params
		if err := r.queryJSON(ctx, "/params", &p); err != nil {
			return fmt.Errorf("relayer: read params: %w", err)
		}
		r.cfg.ChainID = p.ChainID
	}
	r.logger.Info("relayer started", "chain_id", r.cfg.ChainID, "poll", r.cfg.PollInterval.String())

	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	for {
		if _, err := r.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("poll", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Poll answers every outstanding request that has no submission in flight.
// It returns the number of callbacks submitted.
func (r *Relayer) Poll(ctx context.Context) (int, error) {
	var pending []*state.DecryptionRequest
	if err := r.queryJSON(ctx, "/requests/pending", &pending); err != nil {
		return 0, err
	}
	todo := r.claim(pending)
	if len(todo) == 0 {
		return 0, nil
	}

	o := kms.NewOracle(r.committee, &nodeSource{ctx: ctx, node: r.node})
	var (
		mu        sync.Mutex
		submitted int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, req := range todo {
		g.Go(func() error {
			err := r.fulfill(gctx, o, req)
			switch {
			case err == nil:
				mu.Lock()
				submitted++
				mu.Unlock()
				r.metrics.RelayerSubmitted.WithLabelValues(req.Kind.String(), "submitted").Inc()
			case errors.Is(err, ErrAlreadyFulfilled):
				r.metrics.RelayerSubmitted.WithLabelValues(req.Kind.String(), "duplicate").Inc()
			default:
				r.release(req.ID)
				r.metrics.RelayerSubmitted.WithLabelValues(req.Kind.String(), "error").Inc()
				r.logger.Error("fulfill request", "request_id", req.ID, "kind", req.Kind.String(), "err", err)
			}
			// One bad request does not stop the others.
			return nil
		})
	}
	_ = g.Wait()
	return submitted, nil
}

// claim marks the requests this poll will answer and forgets in-flight
// entries the ledger no longer lists.
func (r *Relayer) claim(pending []*state.DecryptionRequest) []*state.DecryptionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	live := make(map[uint64]struct{}, len(pending))
	var out []*state.DecryptionRequest
	for _, req := range pending {
		live[req.ID] = struct{}{}
		if at, ok := r.inflight[req.ID]; ok && now.Sub(at) < r.cfg.ResubmitAfter {
			continue
		}
		r.inflight[req.ID] = now
		out = append(out, req)
	}
	for id := range r.inflight {
		if _, ok := live[id]; !ok {
			delete(r.inflight, id)
		}
	}
	return out
}

func (r *Relayer) release(id uint64) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Relayer) fulfill(ctx context.Context, o *kms.Oracle, req *state.DecryptionRequest) error {
	f, sigs, err := o.Fulfill(r.cfg.ChainID, req.ID, req.Kind, req.Handles)
	if err != nil {
		return err
	}
	tx, err := callbackTx(f, sigs)
	if err != nil {
		return err
	}
	if err := r.node.Broadcast(ctx, tx); err != nil {
		return err
	}
	r.logger.Info("submitted fulfillment", "request_id", req.ID, "kind", req.Kind.String(), "match_id", req.MatchID)
	return nil
}

func callbackTx(f oracle.Fulfillment, sigs []oracle.Signature) ([]byte, error) {
	switch f.Kind {
	case oracle.KindMatchTotals:
		if len(f.Values) != 4 {
			return nil, fmt.Errorf("relayer: totals request has %d values", len(f.Values))
		}
		return codec.EncodeUnsigned(codec.TypeFulfillTotals, codec.FulfillTotalsTx{
			RequestID:  f.RequestID,
			Home:       f.Values[0],
			Away:       f.Values[1],
			Draw:       f.Values[2],
			Total:      f.Values[3],
			Signatures: sigs,
		})
	case oracle.KindUserBet:
		if len(f.Values) != 1 {
			return nil, fmt.Errorf("relayer: user bet request has %d values", len(f.Values))
		}
		return codec.EncodeUnsigned(codec.TypeFulfillUserBet, codec.FulfillUserBetTx{
			RequestID:  f.RequestID,
			Value:      f.Values[0],
			Signatures: sigs,
		})
	default:
		return nil, fmt.Errorf("relayer: unknown request kind %d", f.Kind)
	}
}

func (r *Relayer) queryJSON(ctx context.Context, path string, out any) error {
	b, err := r.node.Query(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("relayer: decode %s: %w", path, err)
	}
	return nil
}

// nodeSource reads ciphertexts over the node's query interface.
type nodeSource struct {
	ctx  context.Context
	node Node
}

func (s *nodeSource) Ciphertext(h fhe.Handle) (betcrypto.Ciphertext, error) {
	b, err := s.node.Query(s.ctx, "/ciphertext/"+h.String())
	if err != nil {
		return betcrypto.Ciphertext{}, err
	}
	var raw []byte
	if err := json.Unmarshal(b, &raw); err != nil {
		return betcrypto.Ciphertext{}, fmt.Errorf("relayer: decode ciphertext %s: %w", h, err)
	}
	return betcrypto.CiphertextFromBytes(raw)
}
