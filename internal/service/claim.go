package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/ledger"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

// Claim pays a winning position its parimutuel share out of the market
// escrow. Only the position row is locked: the market is frozen once
// resolved, and the escrow debit is a single atomic decrement, so claims on
// different positions of one market run in parallel.
func (e *Engine) Claim(ctx context.Context, p domain.ClaimParams) (*domain.ClaimReceipt, error) {
	res, err := e.commit(ctx, domain.OpClaim, func(tx store.Tx) (*result, error) {
		return e.claim(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return res.receipt.Claim, nil
}

func (e *Engine) claim(ctx context.Context, tx store.Tx, p domain.ClaimParams) (*result, error) {
	pos, err := tx.GetPositionForUpdate(ctx, p.Position)
	if err != nil {
		return nil, err
	}
	m, err := tx.GetMarket(ctx, pos.MarketAddress)
	if err != nil {
		return nil, err
	}
	payout, err := ledger.ClaimPayout(m, pos, p.Caller)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	if err := tx.MarkPositionClaimed(ctx, pos.Address, payout, now); err != nil {
		return nil, err
	}
	escrow, err := tx.DebitEscrow(ctx, m.EscrowAddress, payout)
	if err != nil {
		return nil, err
	}
	ledger.MarkClaimed(pos, payout, now)

	transfer := &domain.Transfer{
		Kind:            domain.TransferPayout,
		MarketAddress:   m.Address,
		PositionAddress: pos.Address,
		FromAccount:     domain.EscrowAccount(escrow.Address),
		ToAccount:       domain.OwnerAccount(pos.Owner),
		Amount:          payout,
		CreatedAt:       now,
	}
	entries, err := tx.InsertTransfer(ctx, transfer)
	if err != nil {
		return nil, err
	}

	e.log.Info("payout claimed",
		zap.String("market_id", m.MarketID),
		zap.String("market_address", m.Address.Hex()),
		zap.String("position_address", pos.Address.Hex()),
		zap.Int64("amount", pos.StakeAmount),
		zap.Int64("payout", payout))

	ev := newEvent(domain.EventPayoutClaimed, m, now)
	posAddr := pos.Address
	ev.PositionAddress = &posAddr
	ev.Owner = pos.Owner
	ev.Outcome = pos.Outcome
	ev.Amount = payout

	return &result{
		receipt: domain.Receipt{
			Op: domain.OpClaim,
			Claim: &domain.ClaimReceipt{
				Position: *pos,
				Escrow:   *escrow,
				Payout:   payout,
				Transfer: *transfer,
				Entries:  entries,
			},
		},
		events: []domain.Event{ev},
	}, nil
}
