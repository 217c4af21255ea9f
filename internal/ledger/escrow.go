package ledger

import (
	"fmt"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/settlement"
)

// ExpectedEscrowBalance is pool_yes + pool_no minus every payout already made.
func ExpectedEscrowBalance(m *domain.Market, claimedPayouts int64) (int64, error) {
	total, err := settlement.CheckedAdd(m.PoolYes, m.PoolNo)
	if err != nil {
		return 0, err
	}
	return settlement.CheckedSub(total, claimedPayouts)
}

// AuditInput is the raw material of an escrow audit, gathered by the caller.
type AuditInput struct {
	Market         *domain.Market
	Escrow         *domain.Escrow
	ClaimedPayouts int64
	EntrySum       int64
	Positions      []domain.Position
}

// AuditEscrow checks conservation, the ledger-entry sum, the derived escrow
// address and, once resolved, that the balance covers every unclaimed winner.
func AuditEscrow(in AuditInput) domain.EscrowAudit {
	m, e := in.Market, in.Escrow
	a := domain.EscrowAudit{
		MarketID:       m.MarketID,
		MarketAddress:  m.Address,
		EscrowAddress:  e.Address,
		DerivedEscrow:  address.Escrow(address.Market(m.MarketID)),
		Balance:        e.Balance,
		PoolTotal:      m.PoolYes + m.PoolNo,
		ClaimedPayouts: in.ClaimedPayouts,
		EntrySum:       in.EntrySum,
	}

	if m.Address != address.Market(m.MarketID) {
		a.Problems = append(a.Problems, fmt.Sprintf("market address %s does not match derivation", m.Address))
	}
	if e.Address != a.DerivedEscrow || m.EscrowAddress != a.DerivedEscrow {
		a.Problems = append(a.Problems, fmt.Sprintf("escrow address %s does not match derived %s", e.Address, a.DerivedEscrow))
	}

	expected, err := ExpectedEscrowBalance(m, in.ClaimedPayouts)
	if err != nil {
		a.Problems = append(a.Problems, "expected balance: "+err.Error())
	} else {
		a.ExpectedBalance = expected
		if e.Balance != expected {
			a.Problems = append(a.Problems, fmt.Sprintf("balance %d != pools %d - claimed %d", e.Balance, a.PoolTotal, in.ClaimedPayouts))
		}
	}
	if in.EntrySum != e.Balance {
		a.Problems = append(a.Problems, fmt.Sprintf("ledger entries sum to %d, balance is %d", in.EntrySum, e.Balance))
	}
	if e.TotalCredited-e.TotalDebited != e.Balance {
		a.Problems = append(a.Problems, fmt.Sprintf("credited %d - debited %d != balance %d", e.TotalCredited, e.TotalDebited, e.Balance))
	}

	if m.Status == domain.MarketResolved && m.WinningOutcome != nil {
		auditPayouts(&a, m, e, in.Positions)
	}

	a.Consistent = len(a.Problems) == 0
	return a
}

// auditPayouts recomputes every winning payout from the frozen pools. Their
// sum must fit in the pool, and the unclaimed share must fit in the escrow.
func auditPayouts(a *domain.EscrowAudit, m *domain.Market, e *domain.Escrow, positions []domain.Position) {
	var winners []*domain.Position
	var stakes []int64
	for i := range positions {
		if positions[i].Outcome == *m.WinningOutcome {
			winners = append(winners, &positions[i])
			stakes = append(stakes, positions[i].StakeAmount)
		}
	}
	payouts, err := settlement.Distribute(settlement.Pools{Yes: m.PoolYes, No: m.PoolNo}, *m.WinningOutcome, stakes)
	if err != nil {
		a.Problems = append(a.Problems, "payouts: "+err.Error())
		return
	}

	var all, owed int64
	for i, p := range winners {
		all += payouts[i]
		switch {
		case !p.Claimed:
			owed += payouts[i]
		case p.PayoutAmount != payouts[i]:
			a.Problems = append(a.Problems, fmt.Sprintf("position %s was paid %d, formula gives %d", p.Address, p.PayoutAmount, payouts[i]))
		}
	}
	a.OutstandingOwed = owed
	if all > a.PoolTotal {
		a.Problems = append(a.Problems, fmt.Sprintf("winning payouts sum to %d, pool holds %d", all, a.PoolTotal))
	}
	if owed > e.Balance {
		a.Problems = append(a.Problems, fmt.Sprintf("unclaimed winners are owed %d, escrow holds %d", owed, e.Balance))
	}
}
