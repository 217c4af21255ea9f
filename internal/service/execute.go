package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/store"
)

// ResponseStatus is the HTTP status stored with an idempotent result:
// created for operations that allocate a record, OK otherwise.
func ResponseStatus(op domain.Op) int {
	switch op {
	case domain.OpCreateMarket, domain.OpStake:
		return http.StatusCreated
	default:
		return http.StatusOK
	}
}

// Execute validates and runs one instruction on behalf of caller.
func (e *Engine) Execute(ctx context.Context, caller string, ins domain.Instruction) (*domain.Receipt, error) {
	op, err := e.operation(ctx, caller, ins)
	if err != nil {
		return nil, err
	}
	res, err := e.commit(ctx, ins.Op, op)
	if err != nil {
		return nil, err
	}
	return &res.receipt, nil
}

// ExecuteIdempotent runs ins under an idempotency key. The key, request hash
// and stored response are written in the same transaction as the operation,
// so a key is either fully applied or not at all.
//
// A replay with the same hash returns the stored record instead of a receipt;
// a different hash under a known key is rejected.
func (e *Engine) ExecuteIdempotent(ctx context.Context, caller string, ins domain.Instruction, key, reqHash string) (*domain.Receipt, *domain.IdempotencyRecord, error) {
	op, err := e.operation(ctx, caller, ins)
	if err != nil {
		return nil, nil, err
	}

	var existing *domain.IdempotencyRecord
	res, err := e.commit(ctx, ins.Op, func(tx store.Tx) (*result, error) {
		// 1. Idempotency check
		rec, err := tx.GetIdempotency(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			if rec.RequestHash != reqHash {
				return nil, domain.ErrIdempotencyMismatch
			}
			if rec.Status != domain.IdempotencyCompleted {
				return nil, domain.ErrIdempotencyConflict
			}
			existing = rec
			return nil, nil
		}

		// 2. Reservation
		if err := tx.ReserveIdempotency(ctx, key, reqHash); err != nil {
			return nil, err
		}

		// 3. The operation itself
		res, err := op(tx)
		if err != nil {
			return nil, err
		}

		// 4. Finalize with the response the caller would have seen
		body, err := json.Marshal(res.receipt)
		if err != nil {
			return nil, fmt.Errorf("service: encode receipt: %w", err)
		}
		if err := tx.CompleteIdempotency(ctx, key, ResponseStatus(ins.Op), body); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, existing, nil
	}
	return &res.receipt, nil, nil
}

// operation resolves ins into the transactional step it names.
func (e *Engine) operation(ctx context.Context, caller string, ins domain.Instruction) (func(store.Tx) (*result, error), error) {
	if err := ins.Validate(); err != nil {
		return nil, err
	}
	switch ins.Op {
	case domain.OpCreateMarket:
		p := ins.CreateMarket.Params(caller)
		return func(tx store.Tx) (*result, error) { return e.createMarket(ctx, tx, p) }, nil
	case domain.OpStake:
		p := ins.Stake.Params(caller)
		return func(tx store.Tx) (*result, error) { return e.stake(ctx, tx, p) }, nil
	case domain.OpResolve:
		p := ins.Resolve.Params(caller)
		return func(tx store.Tx) (*result, error) { return e.resolve(ctx, tx, p) }, nil
	case domain.OpClaim:
		p := ins.Claim.Params(caller)
		return func(tx store.Tx) (*result, error) { return e.claim(ctx, tx, p) }, nil
	}
	return nil, domain.ErrInvalidInstruction
}
