package main

import (
	"sort"

	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
)

// Summary aggregates execution log records over a time range.
type Summary struct {
	Attempts       int
	ByState        map[domain.AttemptState]int
	ByReconcile    map[string]int
	Unreconciled   int
	FeeLamports    uint64
	RealizedPnLUSD decimal.Decimal
	PnLUnknown     int
	AvgExpectedPct float64
	PnLByAnchorUSD map[string]decimal.Decimal
	TopFailReasons []ReasonCount
}

// ReasonCount is a terminal reason with its frequency.
type ReasonCount struct {
	Reason string
	Count  int
}

// SuccessRate is the share of attempts that landed, directly or on reconciliation.
func (s Summary) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	landed := s.ByState[domain.StateConfirmed] + s.ByReconcile[domain.ReconcileLanded]
	return float64(landed) / float64(s.Attempts)
}

// summarize folds records and their reconciliations, keyed by attempt id.
// An expired attempt counts toward P&L only once reconciled as landed.
func summarize(records []*domain.ExecutionRecord, recs map[string]*domain.ReconciliationRecord, topReasons int) Summary {
	s := Summary{
		ByState:        make(map[domain.AttemptState]int),
		ByReconcile:    make(map[string]int),
		PnLByAnchorUSD: make(map[string]decimal.Decimal),
	}
	reasons := make(map[string]int)
	var expectedSum float64

	for _, r := range records {
		s.Attempts++
		s.ByState[r.State]++
		s.FeeLamports += r.FeeLamports
		expectedSum += r.ExpectedProfitPct

		switch r.State {
		case domain.StateConfirmed:
			s.addPnL(r.Anchor, r.PnLKnown, r.RealizedPnLUSD)
		case domain.StateFailed:
			if r.Reason != "" {
				reasons[r.Reason]++
			}
		case domain.StateExpired:
			rec, ok := recs[r.AttemptID]
			if !ok {
				s.Unreconciled++
				continue
			}
			s.ByReconcile[rec.Outcome]++
			s.FeeLamports += rec.FeeLamports
			if rec.Outcome == domain.ReconcileLanded {
				s.addPnL(r.Anchor, rec.PnLKnown, rec.RealizedPnLUSD)
			}
		}
	}

	if s.Attempts > 0 {
		s.AvgExpectedPct = expectedSum / float64(s.Attempts)
	}
	for reason, n := range reasons {
		s.TopFailReasons = append(s.TopFailReasons, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(s.TopFailReasons, func(i, j int) bool {
		a, b := s.TopFailReasons[i], s.TopFailReasons[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})
	if topReasons > 0 && len(s.TopFailReasons) > topReasons {
		s.TopFailReasons = s.TopFailReasons[:topReasons]
	}
	return s
}

func (s *Summary) addPnL(anchor string, known bool, usd decimal.Decimal) {
	if !known {
		s.PnLUnknown++
		return
	}
	s.RealizedPnLUSD = s.RealizedPnLUSD.Add(usd)
	s.PnLByAnchorUSD[anchor] = s.PnLByAnchorUSD[anchor].Add(usd)
}
