package storage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// AlertState is the persisted escalation record for one instrument.
type AlertState struct {
	ATHPrice       decimal.Decimal
	ATHDate        time.Time
	LastAlertLevel decimal.Decimal
}

// Snapshot maps instrument display name to its alert state.
type Snapshot map[string]AlertState

// Names returns the snapshot keys in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy safe to mutate independently.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID           int64
	RunID        string
	Instrument   string
	LevelPct     decimal.Decimal
	DeclinePct   decimal.Decimal
	ATHPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	CreatedAt    time.Time
}
