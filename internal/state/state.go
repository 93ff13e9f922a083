package state

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"cipherbet/internal/fhe"
	"cipherbet/internal/oracle"
)

const (
	DefaultBetUnit    = 100
	DefaultPointsRate = 100000
)

type Params struct {
	ChainID    string        `json:"chainId"`
	Owner      string        `json:"owner"`
	BetUnit    uint64        `json:"betUnit"`
	PointsRate uint64        `json:"pointsRate"`
	NetworkKey []byte        `json:"networkKey"` // compressed ristretto255 point
	Oracle     oracle.Policy `json:"oracle"`
	// Faucet enables the unauthenticated bank/mint tx. Devnets only.
	Faucet bool `json:"faucet,omitempty"`
}

type State struct {
	Height int64  `json:"height"`
	Time   int64  `json:"time"` // last block time, unix seconds
	Params Params `json:"params"`

	NextMatchID   uint64 `json:"nextMatchId"`
	NextRequestID uint64 `json:"nextRequestId"`

	Matches    map[uint64]*Match             `json:"matches"`
	Aggregates map[uint64]*MatchAggregate    `json:"aggregates"`
	Bets       map[string]*UserBet           `json:"bets"` // BetKey(matchId, user)
	Requests   map[uint64]*DecryptionRequest `json:"requests"`
	Points     map[string]fhe.Handle         `json:"points"`
	Grants     map[fhe.Handle][]string       `json:"grants"` // handle -> sorted addresses

	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"`
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // highest accepted nonce per signer
	Treasury    uint64            `json:"treasury"`
}

func NewState() *State {
	s := &State{}
	s.fillDefaults()
	return s
}

func (s *State) fillDefaults() {
	if s.NextMatchID == 0 {
		s.NextMatchID = 1
	}
	if s.NextRequestID == 0 {
		s.NextRequestID = 1
	}
	if s.Params.BetUnit == 0 {
		s.Params.BetUnit = DefaultBetUnit
	}
	if s.Params.PointsRate == 0 {
		s.Params.PointsRate = DefaultPointsRate
	}
	if s.Matches == nil {
		s.Matches = map[uint64]*Match{}
	}
	if s.Aggregates == nil {
		s.Aggregates = map[uint64]*MatchAggregate{}
	}
	if s.Bets == nil {
		s.Bets = map[string]*UserBet{}
	}
	if s.Requests == nil {
		s.Requests = map[uint64]*DecryptionRequest{}
	}
	if s.Points == nil {
		s.Points = map[string]fhe.Handle{}
	}
	if s.Grants == nil {
		s.Grants = map[fhe.Handle][]string{}
	}
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
}

const stateFile = "state.json"

// Load reads <home>/state.json. A fresh home yields a default state.
func Load(home string) (*State, error) {
	b, err := os.ReadFile(filepath.Join(home, stateFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewState(), nil
	case err != nil:
		return nil, fmt.Errorf("state: read: %w", err)
	}
	st := new(State)
	if err := json.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("state: decode: %w", err)
	}
	st.fillDefaults()
	return st, nil
}

// Save writes the state through a temp file so a crash never leaves a
// truncated state.json behind.
func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("state: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	path := filepath.Join(home, stateFile)
	if err := os.WriteFile(path+".tmp", b, 0o644); err != nil {
		return fmt.Errorf("state: write: %w", err)
	}
	return os.Rename(path+".tmp", path)
}

// Clone deep-copies the state through its JSON form. Txs run against a clone
// and the clone replaces the live state only when the tx succeeds.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, errors.New("state: clone of nil state")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("state: clone: %w", err)
	}
	out := new(State)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("state: clone: %w", err)
	}
	out.fillDefaults()
	return out, nil
}

type entry[V any] struct {
	Key   string `json:"k"`
	Value V      `json:"v"`
}

// entries flattens m into key order so the encoding does not depend on map
// iteration.
func entries[K comparable, V any](m map[K]V, key func(K) string) []entry[V] {
	out := make([]entry[V], 0, len(m))
	for k, v := range m {
		out = append(out, entry[V]{Key: key(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func strKey(s string) string { return s }

func idKey(n uint64) string { return fmt.Sprintf("%020d", n) }

func sortedByID[V any](m map[uint64]*V) []*V {
	ids := make([]uint64, 0, len(m))
	for k := range m {
		ids = append(ids, k)
	}
	slices.Sort(ids)
	out := make([]*V, len(ids))
	for i, k := range ids {
		out[i] = m[k]
	}
	return out
}

// AppHash is sha256 over a map-free JSON view of the state.
func (s *State) AppHash() []byte {
	view := struct {
		Height        int64                       `json:"height"`
		Time          int64                       `json:"time"`
		Params        Params                      `json:"params"`
		NextMatchID   uint64                      `json:"nextMatchId"`
		NextRequestID uint64                      `json:"nextRequestId"`
		Matches       []entry[*Match]             `json:"matches"`
		Aggregates    []entry[*MatchAggregate]    `json:"aggregates"`
		Bets          []entry[*UserBet]           `json:"bets"`
		Requests      []entry[*DecryptionRequest] `json:"requests"`
		Points        []entry[fhe.Handle]         `json:"points"`
		Grants        []entry[[]string]           `json:"grants"`
		Accounts      []entry[uint64]             `json:"accounts"`
		AccountKeys   []entry[[]byte]             `json:"accountKeys"`
		NonceMax      []entry[uint64]             `json:"nonceMax"`
		Treasury      uint64                      `json:"treasury"`
	}{
		Height:        s.Height,
		Time:          s.Time,
		Params:        s.Params,
		NextMatchID:   s.NextMatchID,
		NextRequestID: s.NextRequestID,
		Matches:       entries(s.Matches, idKey),
		Aggregates:    entries(s.Aggregates, idKey),
		Bets:          entries(s.Bets, strKey),
		Requests:      entries(s.Requests, idKey),
		Points:        entries(s.Points, strKey),
		Grants:        entries(s.Grants, fhe.Handle.String),
		Accounts:      entries(s.Accounts, strKey),
		AccountKeys:   entries(s.AccountKeys, strKey),
		NonceMax:      entries(s.NonceMax, strKey),
		Treasury:      s.Treasury,
	}
	b, _ := json.Marshal(view)
	sum := sha256.Sum256(b)
	return sum[:]
}

// Payment currency balances.

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("credit %s: balance %d + %d overflows", addr, bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("debit %s: balance %d below %d", addr, bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}
