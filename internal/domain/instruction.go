package domain

import (
	"fmt"

	"github.com/punchamoorthee/parimutuel/internal/address"
)

// Op selects one of the four engine operations.
type Op string

const (
	OpCreateMarket Op = "create_market"
	OpStake        Op = "stake"
	OpResolve      Op = "resolve"
	OpClaim        Op = "claim"
)

// CreateMarketParams are the inputs of CreateMarket. Authority is the identity
// allowed to resolve the market later.
type CreateMarketParams struct {
	MarketID  string
	Question  string
	EndTime   int64
	Authority string
}

type StakeParams struct {
	MarketID string
	Owner    string
	Outcome  Outcome
	Amount   int64
}

type ResolveParams struct {
	MarketID       string
	Authority      string
	WinningOutcome Outcome
}

type ClaimParams struct {
	Position address.Address
	Caller   string
}

// Instruction is the structured encoding of one engine call. Exactly one
// payload is set and it must match Op. The caller identity is never part of
// the payload; it comes from the authenticated transport.
type Instruction struct {
	Op           Op                `json:"op"`
	CreateMarket *CreateMarketArgs `json:"create_market,omitempty"`
	Stake        *StakeArgs        `json:"stake,omitempty"`
	Resolve      *ResolveArgs      `json:"resolve,omitempty"`
	Claim        *ClaimArgs        `json:"claim,omitempty"`
}

type CreateMarketArgs struct {
	MarketID string `json:"market_id"`
	Question string `json:"question"`
	EndTime  int64  `json:"end_time"`
}

func (a CreateMarketArgs) Params(caller string) CreateMarketParams {
	return CreateMarketParams{MarketID: a.MarketID, Question: a.Question, EndTime: a.EndTime, Authority: caller}
}

type StakeArgs struct {
	MarketID string  `json:"market_id"`
	Outcome  Outcome `json:"outcome"`
	Amount   int64   `json:"amount"`
}

func (a StakeArgs) Params(caller string) StakeParams {
	return StakeParams{MarketID: a.MarketID, Owner: caller, Outcome: a.Outcome, Amount: a.Amount}
}

type ResolveArgs struct {
	MarketID       string  `json:"market_id"`
	WinningOutcome Outcome `json:"winning_outcome"`
}

func (a ResolveArgs) Params(caller string) ResolveParams {
	return ResolveParams{MarketID: a.MarketID, Authority: caller, WinningOutcome: a.WinningOutcome}
}

type ClaimArgs struct {
	Position address.Address `json:"position"`
}

func (a ClaimArgs) Params(caller string) ClaimParams {
	return ClaimParams{Position: a.Position, Caller: caller}
}

func CreateMarketInstruction(args CreateMarketArgs) Instruction {
	return Instruction{Op: OpCreateMarket, CreateMarket: &args}
}

func StakeInstruction(args StakeArgs) Instruction {
	return Instruction{Op: OpStake, Stake: &args}
}

func ResolveInstruction(args ResolveArgs) Instruction {
	return Instruction{Op: OpResolve, Resolve: &args}
}

func ClaimInstruction(args ClaimArgs) Instruction {
	return Instruction{Op: OpClaim, Claim: &args}
}

// Validate checks the envelope only: a known op with exactly its payload.
// Field-level rules belong to the engine.
func (ins Instruction) Validate() error {
	set := 0
	for _, present := range []bool{ins.CreateMarket != nil, ins.Stake != nil, ins.Resolve != nil, ins.Claim != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return ErrInvalidInstruction.WithMessage(fmt.Sprintf("instruction must carry exactly one payload, got %d", set))
	}

	var ok bool
	switch ins.Op {
	case OpCreateMarket:
		ok = ins.CreateMarket != nil
	case OpStake:
		ok = ins.Stake != nil
	case OpResolve:
		ok = ins.Resolve != nil
	case OpClaim:
		ok = ins.Claim != nil
	default:
		return ErrInvalidInstruction.WithMessage(fmt.Sprintf("unknown op %q", ins.Op))
	}
	if !ok {
		return ErrInvalidInstruction.WithMessage(fmt.Sprintf("payload does not match op %q", ins.Op))
	}
	return nil
}

// CreateMarketReceipt is returned by a committed CreateMarket.
type CreateMarketReceipt struct {
	Market Market `json:"market"`
	Escrow Escrow `json:"escrow"`
}

// StakeReceipt is returned by a committed Stake.
type StakeReceipt struct {
	Market   Market        `json:"market"`
	Escrow   Escrow        `json:"escrow"`
	Position Position      `json:"position"`
	Transfer Transfer      `json:"transfer"`
	Entries  []LedgerEntry `json:"entries"`
}

// ResolveReceipt is returned by a committed Resolve.
type ResolveReceipt struct {
	Market Market `json:"market"`
}

// ClaimReceipt is returned by a committed Claim.
type ClaimReceipt struct {
	Position Position      `json:"position"`
	Escrow   Escrow        `json:"escrow"`
	Payout   int64         `json:"payout"`
	Transfer Transfer      `json:"transfer"`
	Entries  []LedgerEntry `json:"entries"`
}

// Receipt mirrors Instruction: Op plus the one matching result.
type Receipt struct {
	Op           Op                   `json:"op"`
	CreateMarket *CreateMarketReceipt `json:"create_market,omitempty"`
	Stake        *StakeReceipt        `json:"stake,omitempty"`
	Resolve      *ResolveReceipt      `json:"resolve,omitempty"`
	Claim        *ClaimReceipt        `json:"claim,omitempty"`
}
