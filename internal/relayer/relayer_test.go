package relayer

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"cipherbet/internal/codec"
	"cipherbet/internal/coprocessor"
	"cipherbet/internal/fhe"
	"cipherbet/internal/kms"
	"cipherbet/internal/ledger"
	"cipherbet/internal/metrics"
	"cipherbet/internal/state"
)

const testChainID = "cipherbet-test"

// fakeNode serves the relayer's queries from an in-memory ledger and holds
// broadcast txs in a mempool until mine is called.
type fakeNode struct {
	mu      sync.Mutex
	st      *state.State
	cop     *coprocessor.Coprocessor
	alg     *fhe.Algebra
	now     int64
	mempool [][]byte
	results []error
}

func (n *fakeNode) Query(_ context.Context, path string) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case path == "/params":
		return json.Marshal(n.st.Params)
	case path == "/requests/pending":
		return json.Marshal(n.st.PendingRequests())
	case strings.HasPrefix(path, "/ciphertext/"):
		h, err := fhe.ParseHandle(strings.TrimPrefix(path, "/ciphertext/"))
		if err != nil {
			return nil, err
		}
		ct, err := n.cop.Ciphertext(h)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ct.Bytes())
	default:
		return nil, fmt.Errorf("unknown path %s", path)
	}
}

func (n *fakeNode) Broadcast(_ context.Context, tx []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mempool = append(n.mempool, tx)
	return nil
}

func (n *fakeNode) mine(t *testing.T) {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, raw := range n.mempool {
		env, err := codec.DecodeTxEnvelope(raw)
		require.NoError(t, err)
		l := ledger.New(n.st, n.alg, n.now)
		switch env.Type {
		case codec.TypeFulfillTotals:
			var msg codec.FulfillTotalsTx
			require.NoError(t, json.Unmarshal(env.Value, &msg))
			_, err = l.FulfillMatchTotals(msg.RequestID, ledger.Totals{Home: msg.Home, Away: msg.Away, Draw: msg.Draw, Total: msg.Total}, msg.Signatures)
		case codec.TypeFulfillUserBet:
			var msg codec.FulfillUserBetTx
			require.NoError(t, json.Unmarshal(env.Value, &msg))
			_, err = l.FulfillUserBet(msg.RequestID, msg.Value, msg.Signatures)
		default:
			err = fmt.Errorf("unexpected tx %s", env.Type)
		}
		n.results = append(n.results, err)
	}
	n.mempool = nil
}

func setup(t *testing.T) (*fakeNode, *kms.Committee, uint64) {
	t.Helper()
	c, err := kms.NewCommittee(rand.Reader, 3, 2)
	require.NoError(t, err)
	cop := coprocessor.New(c.PubKey, c)
	st := state.NewState()
	st.Params.ChainID = testChainID
	st.Params.Owner = "owner"
	st.Params.Oracle = c.Policy()
	n := &fakeNode{st: st, cop: cop, alg: fhe.NewAlgebra(cop), now: 1_000}

	l := ledger.New(st, n.alg, n.now)
	id, _, err := l.CreateMatch("owner", ledger.CreateMatchParams{BettingStart: 1_010, BettingEnd: 1_100, MatchTime: 1_200})
	require.NoError(t, err)

	n.now = 1_010
	for _, b := range []struct {
		user      string
		dir, amnt uint64
	}{{"alice", 1, 6}, {"bob", 2, 3}} {
		require.NoError(t, st.Credit(b.user, 1))
		_, err := ledger.New(st, n.alg, n.now).BuyPoints(b.user, 1)
		require.NoError(t, err)
		in, err := coprocessor.EncryptInput(rand.Reader, c.PubKey, fhe.Binding{ChainID: testChainID, Caller: b.user},
			[]fhe.Type{fhe.Uint8, fhe.Uint32}, b.dir, b.amnt)
		require.NoError(t, err)
		_, err = ledger.New(st, n.alg, n.now).PlaceBet(b.user, id, in)
		require.NoError(t, err)
	}

	n.now = 1_200
	_, err = ledger.New(st, n.alg, n.now).FinishMatch("owner", id, state.ResultHomeWin)
	require.NoError(t, err)
	_, _, err = ledger.New(st, n.alg, n.now).RequestDecryptMatchTotals(id)
	require.NoError(t, err)
	return n, c, id
}

func TestPoll_FulfillsExactlyOnce(t *testing.T) {
	n, c, id := setup(t)
	m := metrics.New()
	r := New(n, c, Config{ChainID: testChainID}, nil, m)
	ctx := context.Background()

	sent, err := r.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	// Not yet included: repeated polls must not resubmit.
	for i := 0; i < 3; i++ {
		sent, err = r.Poll(ctx)
		require.NoError(t, err)
		require.Zero(t, sent)
	}
	require.Len(t, n.mempool, 1)

	n.mine(t)
	require.NoError(t, n.results[0])
	agg := n.st.Aggregates[id]
	require.True(t, agg.IsTotalDecrypted)
	require.Equal(t, uint64(6), agg.DecryptedHomeWinTotal)
	require.Equal(t, uint64(9), agg.DecryptedTotalAmount)

	sent, err = r.Poll(ctx)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Empty(t, r.inflight)

	// Settlement requests are picked up the same way.
	for _, who := range []string{"alice", "bob"} {
		_, _, err := ledger.New(n.st, n.alg, n.now).SettleBet(who, id)
		require.NoError(t, err)
	}
	sent, err = r.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	n.mine(t)
	require.NoError(t, n.results[1])
	require.NoError(t, n.results[2])
	require.Empty(t, n.st.PendingRequests())
	require.Equal(t, uint64(900), n.st.Bet(id, "alice").Payout)
	require.Equal(t, uint64(0), n.st.Bet(id, "bob").Payout)

	require.Equal(t, 1.0, testutil.ToFloat64(m.RelayerSubmitted.WithLabelValues("match_totals", "submitted")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.RelayerSubmitted.WithLabelValues("user_bet", "submitted")))
}

func TestPoll_ResubmitsAfterTimeout(t *testing.T) {
	n, c, _ := setup(t)
	r := New(n, c, Config{ChainID: testChainID, ResubmitAfter: time.Minute}, nil, nil)
	clock := time.Unix(5_000, 0)
	r.now = func() time.Time { return clock }

	sent, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	// The submission was dropped by the node.
	n.mempool = nil
	clock = clock.Add(2 * time.Minute)
	sent, err = r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	n.mine(t)
	require.NoError(t, n.results[0])
}

type failingNode struct {
	*fakeNode
	fail bool
}

func (f *failingNode) Broadcast(ctx context.Context, tx []byte) error {
	if f.fail {
		return checkTxResult("cipherbet", ledger.ErrInvalidRequest.ABCICode(), "mempool full")
	}
	return f.fakeNode.Broadcast(ctx, tx)
}

func TestPoll_ReleasesFailedSubmissions(t *testing.T) {
	n, c, _ := setup(t)
	fn := &failingNode{fakeNode: n, fail: true}
	r := New(fn, c, Config{ChainID: testChainID}, nil, nil)

	sent, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Empty(t, r.inflight)

	fn.fail = false
	sent, err = r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)
}

func TestRun_ReadsChainIDAndStops(t *testing.T) {
	n, c, id := setup(t)
	r := New(n, c, Config{PollInterval: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.mempool) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	n.mine(t)
	require.NoError(t, n.results[0])
	require.True(t, n.st.Aggregates[id].IsTotalDecrypted)
}

func TestCheckTxResult(t *testing.T) {
	require.NoError(t, checkTxResult("", 0, ""))
	err := checkTxResult(ledger.ModuleName, ledger.ErrAlreadyFulfilled.ABCICode(), "request 3")
	require.ErrorIs(t, err, ErrAlreadyFulfilled)
	err = checkTxResult(ledger.ModuleName, ledger.ErrBadSignatures.ABCICode(), "bad")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyFulfilled)
}
