package enums

import "fmt"

// LedgerEntryState maps to the ledger_entry_state enum in Postgres.
type LedgerEntryState string

const (
	LedgerEntryStatePending  LedgerEntryState = "pending"
	LedgerEntryStateEscrowed LedgerEntryState = "escrowed"
	LedgerEntryStateBatching LedgerEntryState = "batching"
	LedgerEntryStateReleased LedgerEntryState = "released"
	LedgerEntryStatePaid     LedgerEntryState = "paid"
	LedgerEntryStateFailed   LedgerEntryState = "failed"
)

var validLedgerEntryStates = []LedgerEntryState{
	LedgerEntryStatePending,
	LedgerEntryStateEscrowed,
	LedgerEntryStateBatching,
	LedgerEntryStateReleased,
	LedgerEntryStatePaid,
	LedgerEntryStateFailed,
}

// ledgerTransitions lists every edge an entry may take. batching->escrowed and
// released->escrowed are the only backward edges.
var ledgerTransitions = map[LedgerEntryState][]LedgerEntryState{
	LedgerEntryStatePending:  {LedgerEntryStateEscrowed},
	LedgerEntryStateEscrowed: {LedgerEntryStateBatching},
	LedgerEntryStateBatching: {LedgerEntryStateEscrowed, LedgerEntryStateReleased, LedgerEntryStateFailed},
	LedgerEntryStateReleased: {LedgerEntryStatePaid, LedgerEntryStateEscrowed, LedgerEntryStateFailed},
}

// IsValid reports whether the value matches the canonical ledger entry state.
func (s LedgerEntryState) IsValid() bool {
	for _, candidate := range validLedgerEntryStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a permitted successor of s.
func (s LedgerEntryState) CanTransitionTo(next LedgerEntryState) bool {
	for _, candidate := range ledgerTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s LedgerEntryState) IsTerminal() bool {
	return len(ledgerTransitions[s]) == 0
}

// ParseLedgerEntryState converts raw input into LedgerEntryState.
func ParseLedgerEntryState(value string) (LedgerEntryState, error) {
	for _, candidate := range validLedgerEntryStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry state %q", value)
}
