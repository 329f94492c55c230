package fees

import (
	"fmt"
	"os"

	"escrow_wallet/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	MaxFee string     `yaml:"max_fee"`
	Tiers  []tierFile `yaml:"tiers"`
}

type tierFile struct {
	UpperLimit string `yaml:"upper_limit"`
	Rate       string `yaml:"rate"`
}

// LoadRules reads a fee table from a YAML file. A tier without upper_limit
// is the unbounded one.
//
//	max_fee: "50"
//	tiers:
//	  - {upper_limit: "1000", rate: "0.05"}
//	  - {upper_limit: "5000", rate: "0.03"}
//	  - {rate: "0.01"}
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read fee rules: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (Rules, error) {
	var raw rulesFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Rules{}, fmt.Errorf("%w: %v", models.ErrInvalidFeeRules, err)
	}

	maxFee, err := decimal.NewFromString(raw.MaxFee)
	if err != nil {
		return Rules{}, fmt.Errorf("%w: max_fee %q", models.ErrInvalidFeeRules, raw.MaxFee)
	}
	rules := Rules{MaxFee: maxFee}
	for i, t := range raw.Tiers {
		rate, err := decimal.NewFromString(t.Rate)
		if err != nil {
			return Rules{}, fmt.Errorf("%w: tier %d rate %q", models.ErrInvalidFeeRules, i+1, t.Rate)
		}
		tier := Tier{Rate: rate}
		if t.UpperLimit != "" {
			limit, err := decimal.NewFromString(t.UpperLimit)
			if err != nil {
				return Rules{}, fmt.Errorf("%w: tier %d upper_limit %q", models.ErrInvalidFeeRules, i+1, t.UpperLimit)
			}
			tier.UpperLimit = &limit
		}
		rules.Tiers = append(rules.Tiers, tier)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}
