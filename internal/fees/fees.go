// Package fees holds the withdrawal fee table and the pure calculations
// built on it. Nothing here touches storage; every function is safe for
// concurrent use.
package fees

import (
	"fmt"

	"escrow_wallet/internal/models"

	"github.com/shopspring/decimal"
)

// Tier covers amounts up to and including UpperLimit. A nil UpperLimit is
// the unbounded last tier.
type Tier struct {
	UpperLimit *decimal.Decimal
	Rate       decimal.Decimal
}

type Rules struct {
	Tiers  []Tier
	MaxFee decimal.Decimal
}

// DefaultRules: 0-1000 at 5%, up to 5000 at 3%, above at 1%, capped at 50.
func DefaultRules() Rules {
	t1 := decimal.NewFromInt(1000)
	t2 := decimal.NewFromInt(5000)
	return Rules{
		Tiers: []Tier{
			{UpperLimit: &t1, Rate: decimal.RequireFromString("0.05")},
			{UpperLimit: &t2, Rate: decimal.RequireFromString("0.03")},
			{Rate: decimal.RequireFromString("0.01")},
		},
		MaxFee: decimal.NewFromInt(50),
	}
}

// Validate checks that tiers are ascending, contiguous and end with an
// unbounded tier, and that every rate lies in [0, 1].
func (r Rules) Validate() error {
	if len(r.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers", models.ErrInvalidFeeRules)
	}
	if r.MaxFee.IsNegative() {
		return fmt.Errorf("%w: negative max fee", models.ErrInvalidFeeRules)
	}
	prev := decimal.Zero
	for i, t := range r.Tiers {
		if t.Rate.IsNegative() || t.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: tier %d rate %s out of [0,1]", models.ErrInvalidFeeRules, i+1, t.Rate)
		}
		last := i == len(r.Tiers)-1
		if t.UpperLimit == nil {
			if !last {
				return fmt.Errorf("%w: unbounded tier %d is not the last one", models.ErrInvalidFeeRules, i+1)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: last tier must be unbounded", models.ErrInvalidFeeRules)
		}
		if !t.UpperLimit.GreaterThan(prev) {
			return fmt.Errorf("%w: tier %d limit %s is not above %s", models.ErrInvalidFeeRules, i+1, t.UpperLimit, prev)
		}
		prev = *t.UpperLimit
	}
	return nil
}

type Preview struct {
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	NetAmount   decimal.Decimal `json:"netAmount"`
	RateApplied string          `json:"rateApplied"`
	Capped      bool            `json:"capped"`
}

type Calculator struct {
	rules Rules
}

func NewCalculator(rules Rules) (*Calculator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{rules: rules}, nil
}

func (c *Calculator) Rules() Rules {
	return c.rules
}

// ComputeWithdrawalFee selects the tier containing amount (upper bounds are
// inclusive), applies its rate and clamps the result to MaxFee. A fee that
// reaches the cap is reported as capped.
func (c *Calculator) ComputeWithdrawalFee(amount decimal.Decimal) (Preview, error) {
	if err := ValidateAmount(amount); err != nil {
		return Preview{}, err
	}

	tier := c.tierFor(amount)
	fee := amount.Mul(tier.Rate).Round(2)
	rateApplied := tier.Rate.Mul(decimal.NewFromInt(100)).String() + "%"
	capped := false
	if fee.GreaterThanOrEqual(c.rules.MaxFee) {
		fee = c.rules.MaxFee
		rateApplied = "capped at " + c.rules.MaxFee.StringFixed(2)
		capped = true
	}

	return Preview{
		Amount:      amount,
		Fee:         fee,
		NetAmount:   amount.Sub(fee).Round(2),
		RateApplied: rateApplied,
		Capped:      capped,
	}, nil
}

func (c *Calculator) tierFor(amount decimal.Decimal) Tier {
	for _, t := range c.rules.Tiers {
		if t.UpperLimit == nil || amount.LessThanOrEqual(*t.UpperLimit) {
			return t
		}
	}
	// Validate guarantees an unbounded last tier.
	return c.rules.Tiers[len(c.rules.Tiers)-1]
}

// ServiceFee is the platform cut charged on top of tuition at payment time,
// rounded half-up to whole currency units.
func ServiceFee(tuition, rate decimal.Decimal) decimal.Decimal {
	return tuition.Mul(rate).Round(0)
}

// MaxAmount is the largest value a NUMERIC(15,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999999.99")

// Exponent window accepted before any rounding.
const (
	minExponent = -20
	maxExponent = 13
)

// InRange reports whether amount has a sane exponent and fits storage.
// Call it before Round or Mul on untrusted input.
func InRange(amount decimal.Decimal) bool {
	exp := amount.Exponent()
	if exp < minExponent || exp > maxExponent {
		return false
	}
	return amount.Abs().LessThanOrEqual(MaxAmount)
}

// ValidateAmount accepts strictly positive amounts with at most two decimals
// that fit the ledger columns.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", models.ErrInvalidAmount)
	}
	if !InRange(amount) {
		return fmt.Errorf("%w: out of range, at most %s", models.ErrInvalidAmount, MaxAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: at most two decimal places", models.ErrInvalidAmount)
	}
	return nil
}
