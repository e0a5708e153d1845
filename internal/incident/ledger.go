package incident

import (
	"math"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// recordRecognition folds a positive benign identification into the ledger.
// identityLLR is the event's identity component after per-event capping.
func recordRecognition(l *domain.Ledger, cfg domain.LedgerConfig, label string, identityLLR float64) {
	l.Cumulative = math.Max(l.Cumulative+identityLLR, cfg.IdentityFloor)
	l.Resolved = true
	l.Identity = label
	l.Confirmations++
}

// gate applies identity explain-away to a summed evidence vector. Once an
// identity is resolved the identity channel is the ledger total, positive
// time/entry/behavior keep only their retention share and positive presence
// is dropped. Negative components are never scaled.
func gate(sum domain.Evidence, l domain.Ledger, cfg domain.LedgerConfig) domain.Evidence {
	if !l.Resolved {
		return sum
	}

	retain := func(v, factor float64) float64 {
		if v > 0 {
			return v * factor
		}
		return v
	}

	out := sum
	out.Identity = l.Cumulative
	out.Time = retain(sum.Time, cfg.TimeRetention)
	out.Entry = retain(sum.Entry, cfg.EntryRetention)
	out.Behavior = retain(sum.Behavior, cfg.BehaviorRetention)
	if out.Presence > 0 {
		out.Presence = 0
	}
	if l.Interior {
		out.Entry = retain(out.Entry, cfg.InteriorEntryDecay)
	}
	return out
}

// Fuse computes the incident-level evidence from buffered events and ledger
// state: per-event clamp, per-channel sum, identity gating, aggregate clamp.
func Fuse(events []domain.Event, l domain.Ledger, cfg domain.ReasoningConfig) domain.Evidence {
	var sum domain.Evidence
	for _, ev := range events {
		sum = sum.Add(ev.Evidence.Capped(cfg.PosCap, cfg.NegCap))
	}
	return gate(sum, l, cfg.Ledger).Capped(cfg.AggregatePosCap, cfg.AggregateNegCap)
}
