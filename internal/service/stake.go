package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/ledger"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

// Stake adds amount to one pool of an active market, credits its escrow and
// records a new position. Stakes never merge: every call creates its own
// position, addressed by the owner's next sequence number on the market.
func (e *Engine) Stake(ctx context.Context, p domain.StakeParams) (*domain.StakeReceipt, error) {
	res, err := e.commit(ctx, domain.OpStake, func(tx store.Tx) (*result, error) {
		return e.stake(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return res.receipt.Stake, nil
}

func (e *Engine) stake(ctx context.Context, tx store.Tx, p domain.StakeParams) (*result, error) {
	if err := ledger.ValidateStake(p, e.limits); err != nil {
		return nil, err
	}

	// 1. Lock the market row; concurrent stakes on this market queue here.
	m, err := tx.GetMarketForUpdate(ctx, address.Market(p.MarketID))
	if err != nil {
		return nil, err
	}
	now := e.clock()
	if err := ledger.CheckStakeable(m, now, e.limits); err != nil {
		return nil, err
	}

	// 2. Pool bookkeeping and the new position.
	seq, err := tx.NextPositionSeq(ctx, m.Address, p.Owner)
	if err != nil {
		return nil, err
	}
	quote, err := ledger.ApplyStake(m, p.Outcome, p.Amount, seq == 1)
	if err != nil {
		return nil, err
	}
	pos := ledger.NewPosition(m, p, seq, quote, now)
	if err := tx.InsertPosition(ctx, pos); err != nil {
		return nil, err
	}
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	// 3. Move the value into escrow and book both legs.
	escrow, err := tx.CreditEscrow(ctx, m.EscrowAddress, p.Amount)
	if err != nil {
		return nil, err
	}
	transfer := &domain.Transfer{
		Kind:            domain.TransferStake,
		MarketAddress:   m.Address,
		PositionAddress: pos.Address,
		FromAccount:     domain.OwnerAccount(p.Owner),
		ToAccount:       domain.EscrowAccount(escrow.Address),
		Amount:          p.Amount,
		CreatedAt:       now,
	}
	entries, err := tx.InsertTransfer(ctx, transfer)
	if err != nil {
		return nil, err
	}

	e.log.Info("stake placed",
		zap.String("market_id", m.MarketID),
		zap.String("market_address", m.Address.Hex()),
		zap.String("position_address", pos.Address.Hex()),
		zap.String("outcome", string(p.Outcome)),
		zap.Int64("amount", p.Amount),
		zap.Uint64("seq", seq))

	ev := newEvent(domain.EventStakePlaced, m, now)
	posAddr := pos.Address
	ev.PositionAddress = &posAddr
	ev.Owner = p.Owner
	ev.Outcome = p.Outcome
	ev.Amount = p.Amount

	return &result{
		receipt: domain.Receipt{
			Op: domain.OpStake,
			Stake: &domain.StakeReceipt{
				Market:   *m,
				Escrow:   *escrow,
				Position: *pos,
				Transfer: *transfer,
				Entries:  entries,
			},
		},
		events: []domain.Event{ev},
		market: m,
	}, nil
}
