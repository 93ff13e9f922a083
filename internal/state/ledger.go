package state

import (
	"fmt"
	"sort"

	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
)

type Result uint8

const (
	ResultNone    Result = 0
	ResultHomeWin Result = 1
	ResultAwayWin Result = 2
	ResultDraw    Result = 3
)

func (r Result) Valid() bool {
	return r == ResultHomeWin || r == ResultAwayWin || r == ResultDraw
}

func (r Result) String() string {
	switch r {
	case ResultHomeWin:
		return "home"
	case ResultAwayWin:
		return "away"
	case ResultDraw:
		return "draw"
	default:
		return "none"
	}
}

type Match struct {
	ID           uint64 `json:"id"`
	HomeTeam     string `json:"homeTeam"`
	AwayTeam     string `json:"awayTeam"`
	Name         string `json:"name"`
	BettingStart int64  `json:"bettingStart"` // unix seconds
	BettingEnd   int64  `json:"bettingEnd"`
	MatchTime    int64  `json:"matchTime"`
	Creator      string `json:"creator"`
	CreatedAt    int64  `json:"createdAt"`

	IsActive   bool   `json:"isActive"`
	IsFinished bool   `json:"isFinished"`
	Result     Result `json:"result"`
	// Results are posted in plaintext at finish; the flag is kept for clients.
	IsResultDecrypted bool `json:"isResultDecrypted"`
}

// Phase is the lifecycle phase of m at now, derived rather than stored.
func (m *Match) Phase(now int64, agg *MatchAggregate) string {
	switch {
	case m.IsFinished && agg != nil && agg.IsTotalDecrypted:
		return "totals_decrypted"
	case m.IsFinished:
		return "finished"
	case now > m.BettingEnd:
		return "betting_closed"
	case now >= m.BettingStart:
		return "betting_open"
	default:
		return "created"
	}
}

type MatchAggregate struct {
	MatchID      uint64     `json:"matchId"`
	HomeWinTotal fhe.Handle `json:"homeWinTotal"`
	AwayWinTotal fhe.Handle `json:"awayWinTotal"`
	DrawTotal    fhe.Handle `json:"drawTotal"`
	TotalAmount  fhe.Handle `json:"totalAmount"`

	IsTotalDecrypted      bool   `json:"isTotalDecrypted"`
	DecryptedHomeWinTotal uint64 `json:"decryptedHomeWinTotal"`
	DecryptedAwayWinTotal uint64 `json:"decryptedAwayWinTotal"`
	DecryptedDrawTotal    uint64 `json:"decryptedDrawTotal"`
	DecryptedTotalAmount  uint64 `json:"decryptedTotalAmount"`
}

// WinPool is the decrypted pool for result r.
func (a *MatchAggregate) WinPool(r Result) uint64 {
	switch r {
	case ResultHomeWin:
		return a.DecryptedHomeWinTotal
	case ResultAwayWin:
		return a.DecryptedAwayWinTotal
	case ResultDraw:
		return a.DecryptedDrawTotal
	default:
		return 0
	}
}

type UserBet struct {
	MatchID   uint64     `json:"matchId"`
	User      string     `json:"user"`
	Direction fhe.Handle `json:"direction"` // euint8 in {1,2,3} when valid
	Amount    fhe.Handle `json:"amount"`    // euint32 stake in bet units, 0 for a rejected bet

	HasSettled bool `json:"hasSettled"`
	// Set by the settlement reveal: the oracle has returned the bet's payout basis.
	IsDecrypted bool       `json:"isDecrypted"`
	Reveal      fhe.Handle `json:"reveal"`
	Refund      bool       `json:"refund,omitempty"`
	RequestID   uint64     `json:"requestId,omitempty"`
	Payout      uint64     `json:"payout"`
}

func BetKey(matchID uint64, user string) string {
	return fmt.Sprintf("%d/%s", matchID, user)
}

type DecryptionRequest struct {
	ID          uint64       `json:"id"`
	Kind        oracle.Kind  `json:"kind"`
	MatchID     uint64       `json:"matchId"`
	User        string       `json:"user,omitempty"` // UserBet requests only
	Handles     []fhe.Handle `json:"handles"`
	RequestedAt int64        `json:"requestedAt"`
	Fulfilled   bool         `json:"fulfilled"`
	Values      []uint64     `json:"values,omitempty"`
}

func (s *State) MatchList() []*Match {
	return sortedByID(s.Matches)
}

func (s *State) Bet(matchID uint64, user string) *UserBet {
	return s.Bets[BetKey(matchID, user)]
}

// PendingRequests lists unfulfilled requests in id order.
func (s *State) PendingRequests() []*DecryptionRequest {
	out := make([]*DecryptionRequest, 0)
	for _, r := range sortedByID(s.Requests) {
		if !r.Fulfilled {
			out = append(out, r)
		}
	}
	return out
}

// Grant records that addr may decrypt h. Grants are never revoked.
func (s *State) Grant(h fhe.Handle, addr string) {
	addrs := s.Grants[h]
	i := sort.SearchStrings(addrs, addr)
	if i < len(addrs) && addrs[i] == addr {
		return
	}
	addrs = append(addrs, "")
	copy(addrs[i+1:], addrs[i:])
	addrs[i] = addr
	s.Grants[h] = addrs
}

func (s *State) CanView(h fhe.Handle, addr string) bool {
	addrs := s.Grants[h]
	i := sort.SearchStrings(addrs, addr)
	return i < len(addrs) && addrs[i] == addr
}
