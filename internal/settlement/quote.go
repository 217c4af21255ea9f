package settlement

import "github.com/punchamoorthee/parimutuel/internal/domain"

// Pools is a market's pair of outcome pools.
type Pools struct {
	Yes int64
	No  int64
}

func (p Pools) Side(o domain.Outcome) int64 {
	if o == domain.OutcomeYes {
		return p.Yes
	}
	return p.No
}

func (p Pools) Total() (int64, error) {
	return CheckedAdd(p.Yes, p.No)
}

// Add returns the pools after amount lands on outcome.
func (p Pools) Add(o domain.Outcome, amount int64) (Pools, error) {
	var err error
	if o == domain.OutcomeYes {
		p.Yes, err = CheckedAdd(p.Yes, amount)
	} else {
		p.No, err = CheckedAdd(p.No, amount)
	}
	if err != nil {
		return Pools{}, err
	}
	if _, err := p.Total(); err != nil {
		return Pools{}, err
	}
	return p, nil
}

// Quote is what a staker is told at stake time. It is informational: the
// claim always recomputes from the frozen pools.
type Quote struct {
	OddsAtStakeBps  int64
	PotentialPayout int64
	After           Pools
}

// QuoteStake prices a stake of amount on outcome against the current pools.
// Odds use the pools before the stake; the potential payout uses the pools
// after it, as if the market resolved right now.
func QuoteStake(before Pools, o domain.Outcome, amount int64) (Quote, error) {
	total, err := before.Total()
	if err != nil {
		return Quote{}, err
	}
	odds, err := OddsBps(before.Side(o), total)
	if err != nil {
		return Quote{}, err
	}
	after, err := before.Add(o, amount)
	if err != nil {
		return Quote{}, err
	}
	newTotal, err := after.Total()
	if err != nil {
		return Quote{}, err
	}
	potential, err := Payout(newTotal, amount, after.Side(o))
	if err != nil {
		return Quote{}, err
	}
	return Quote{OddsAtStakeBps: odds, PotentialPayout: potential, After: after}, nil
}

// Distribute computes the payout of every winning stake against frozen pools.
// The sum never exceeds the pool total because each share is floored.
func Distribute(frozen Pools, winner domain.Outcome, stakes []int64) ([]int64, error) {
	total, err := frozen.Total()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(stakes))
	for i, s := range stakes {
		if out[i], err = Payout(total, s, frozen.Side(winner)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
