package escrow

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// payoutGroup is one seller's releasable entries in a single currency. Net
// amounts are only summed within a currency.
type payoutGroup struct {
	sellerID uuid.UUID
	currency string
	entries  []models.LedgerEntry
	net      int64
}

type groupKey struct {
	sellerID uuid.UUID
	currency string
}

// groupBySellerCurrency keeps the releasable order, which is already sorted by
// seller.
func groupBySellerCurrency(entries []models.LedgerEntry) []payoutGroup {
	var groups []payoutGroup
	index := map[groupKey]int{}
	for _, entry := range entries {
		key := groupKey{sellerID: entry.SellerID, currency: strings.ToUpper(entry.Currency)}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, payoutGroup{sellerID: key.sellerID, currency: key.currency})
		}
		groups[i].entries = append(groups[i].entries, entry)
		groups[i].net += entry.NetAmount
	}
	return groups
}

func (g payoutGroup) ids() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.entries))
	for _, entry := range g.entries {
		ids = append(ids, entry.ID)
	}
	return ids
}

// only returns the entries whose ids were claimed, marked as batching.
func (g payoutGroup) only(ids []uuid.UUID) []models.LedgerEntry {
	keep := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := make([]models.LedgerEntry, 0, len(ids))
	for _, entry := range g.entries {
		if _, ok := keep[entry.ID]; ok {
			entry.State = enums.LedgerEntryStateBatching
			out = append(out, entry)
		}
	}
	return out
}
