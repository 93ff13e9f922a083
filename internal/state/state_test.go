package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
)

func handle(b byte, t fhe.Type) fhe.Handle {
	var h fhe.Handle
	h[0] = b
	h[30] = byte(t)
	return h
}

func TestAppHash_StableAcrossMapOrder(t *testing.T) {
	s1 := NewState()
	s1.Height = 7
	s1.Accounts["bob"] = 2
	s1.Accounts["alice"] = 1
	s1.Matches[2] = &Match{ID: 2}
	s1.Matches[1] = &Match{ID: 1}
	s1.Points["bob"] = handle(2, fhe.Uint32)
	s1.Points["alice"] = handle(1, fhe.Uint32)

	s2 := NewState()
	s2.Height = 7
	s2.Accounts["alice"] = 1
	s2.Accounts["bob"] = 2
	s2.Matches[1] = &Match{ID: 1}
	s2.Matches[2] = &Match{ID: 2}
	s2.Points["alice"] = handle(1, fhe.Uint32)
	s2.Points["bob"] = handle(2, fhe.Uint32)

	require.Equal(t, s1.AppHash(), s2.AppHash())

	s2.Matches[1].IsFinished = true
	require.NotEqual(t, s1.AppHash(), s2.AppHash())
}

func TestClone_IsDeep(t *testing.T) {
	s := NewState()
	s.Matches[1] = &Match{ID: 1, Name: "final"}
	s.Bets[BetKey(1, "alice")] = &UserBet{MatchID: 1, User: "alice"}
	s.Requests[1] = &DecryptionRequest{ID: 1, Kind: oracle.KindMatchTotals, Handles: []fhe.Handle{handle(3, fhe.Uint32)}}
	s.Grant(handle(4, fhe.Uint32), "alice")

	c, err := s.Clone()
	require.NoError(t, err)
	require.Equal(t, s.AppHash(), c.AppHash())

	c.Matches[1].IsFinished = true
	c.Bet(1, "alice").HasSettled = true
	c.Requests[1].Fulfilled = true
	c.Grant(handle(4, fhe.Uint32), "bob")

	require.False(t, s.Matches[1].IsFinished)
	require.False(t, s.Bet(1, "alice").HasSettled)
	require.False(t, s.Requests[1].Fulfilled)
	require.False(t, s.CanView(handle(4, fhe.Uint32), "bob"))
	require.Equal(t, oracle.KindMatchTotals, c.Requests[1].Kind)
}

func TestGrant_SortedAndUnique(t *testing.T) {
	s := NewState()
	h := handle(9, fhe.Uint8)
	s.Grant(h, "carol")
	s.Grant(h, "alice")
	s.Grant(h, "bob")
	s.Grant(h, "alice")
	require.Equal(t, []string{"alice", "bob", "carol"}, s.Grants[h])
	require.True(t, s.CanView(h, "bob"))
	require.False(t, s.CanView(h, "dave"))
}

func TestPendingRequests_InIDOrder(t *testing.T) {
	s := NewState()
	s.Requests[3] = &DecryptionRequest{ID: 3}
	s.Requests[1] = &DecryptionRequest{ID: 1}
	s.Requests[2] = &DecryptionRequest{ID: 2, Fulfilled: true}
	got := s.PendingRequests()
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].ID)
	require.Equal(t, uint64(3), got[1].ID)
}

func TestMatch_Phase(t *testing.T) {
	m := &Match{BettingStart: 100, BettingEnd: 200}
	agg := &MatchAggregate{}
	require.Equal(t, "created", m.Phase(50, agg))
	require.Equal(t, "betting_open", m.Phase(100, agg))
	require.Equal(t, "betting_open", m.Phase(200, agg))
	require.Equal(t, "betting_closed", m.Phase(201, agg))
	m.IsFinished = true
	require.Equal(t, "finished", m.Phase(300, agg))
	agg.IsTotalDecrypted = true
	require.Equal(t, "totals_decrypted", m.Phase(300, agg))
}

func TestSaveLoad(t *testing.T) {
	home := t.TempDir()
	s := NewState()
	s.Params.Owner = "owner"
	s.Points["alice"] = handle(5, fhe.Uint32)
	require.NoError(t, s.Save(home))

	back, err := Load(home)
	require.NoError(t, err)
	require.Equal(t, s.AppHash(), back.AppHash())

	fresh, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, uint64(1), fresh.NextMatchID)
	require.Equal(t, uint64(DefaultBetUnit), fresh.Params.BetUnit)
}

func TestBank_CreditDebit(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Credit("alice", 5))
	require.Error(t, s.Debit("alice", 6))
	require.NoError(t, s.Debit("alice", 5))
	require.Equal(t, uint64(0), s.Balance("alice"))
	s.Accounts["bob"] = ^uint64(0)
	require.Error(t, s.Credit("bob", 1))
}
