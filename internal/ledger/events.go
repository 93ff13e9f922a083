package ledger

import (
	"fmt"
	"sort"

	abci "github.com/cometbft/cometbft/abci/types"
)

const (
	EventTypeMatchCreated            = "MatchCreated"
	EventTypeBetPlaced               = "BetPlaced"
	EventTypeMatchFinished           = "MatchFinished"
	EventTypeMatchTotalsDecrypted    = "MatchTotalsDecrypted"
	EventTypeBetSettled              = "BetSettled"
	EventTypePointsPurchased         = "PointsPurchased"
	EventTypeTreasuryWithdrawn       = "TreasuryWithdrawn"
	EventTypeDecryptionRequested     = "DecryptionRequested"
	EventTypeUserDecryptionRequested = "UserDecryptionRequested"
	EventTypeDecryptionFulfilled     = "DecryptionFulfilled"
)

// Event builds an indexed ABCI event with attributes sorted by key.
func Event(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}

func u64s(v uint64) string {
	return fmt.Sprintf("%d", v)
}

func i64s(v int64) string {
	return fmt.Sprintf("%d", v)
}
