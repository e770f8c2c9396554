package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ErrInvalidBasket reports a malformed basket definition file.
var ErrInvalidBasket = errors.New("config: invalid basket definition")

// CollateralSpec declares one collateral to register.
type CollateralSpec struct {
	ID                  string `yaml:"id"`
	Token               string `yaml:"token"`
	TargetUnit          string `yaml:"target"`
	Peg                 string `yaml:"peg"`
	DefaultThresholdBps uint64 `yaml:"defaultThresholdBps"`
	DefaultDelay        string `yaml:"defaultDelay"`
}

// PrimeSpec declares one prime-basket weight as a decimal quantity per token.
type PrimeSpec struct {
	ID       string `yaml:"id"`
	Quantity string `yaml:"quantity"`
}

// BasketDefinition is the administratively supplied basket file: the
// collateral universe plus the prime weights.
type BasketDefinition struct {
	Collateral []CollateralSpec `yaml:"collateral"`
	Prime      []PrimeSpec      `yaml:"prime"`
}

// LoadBasket reads and validates a YAML basket definition.
func LoadBasket(path string) (*BasketDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def := &BasketDefinition{}
	if err := yaml.Unmarshal(raw, def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBasket, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks structural validity; economic validity (weights pricing out
// to one target unit) is the basket handler's job at set time.
func (d *BasketDefinition) Validate() error {
	if len(d.Collateral) == 0 || len(d.Prime) == 0 {
		return fmt.Errorf("%w: collateral and prime sections are required", ErrInvalidBasket)
	}
	ids := make(map[string]bool)
	for _, spec := range d.Collateral {
		if spec.ID == "" || spec.Token == "" || spec.TargetUnit == "" {
			return fmt.Errorf("%w: collateral needs id, token and target", ErrInvalidBasket)
		}
		if ids[spec.ID] {
			return fmt.Errorf("%w: duplicate collateral %s", ErrInvalidBasket, spec.ID)
		}
		ids[spec.ID] = true
		if spec.Peg != "" {
			if _, err := ParseWad(spec.Peg); err != nil {
				return fmt.Errorf("%w: collateral %s peg: %v", ErrInvalidBasket, spec.ID, err)
			}
		}
		if spec.DefaultDelay != "" {
			if _, err := time.ParseDuration(spec.DefaultDelay); err != nil {
				return fmt.Errorf("%w: collateral %s delay: %v", ErrInvalidBasket, spec.ID, err)
			}
		}
	}
	for _, weight := range d.Prime {
		if !ids[weight.ID] {
			return fmt.Errorf("%w: prime weight for unknown collateral %s", ErrInvalidBasket, weight.ID)
		}
		qty, err := ParseWad(weight.Quantity)
		if err != nil {
			return fmt.Errorf("%w: prime %s quantity: %v", ErrInvalidBasket, weight.ID, err)
		}
		if qty.Sign() <= 0 {
			return fmt.Errorf("%w: prime %s quantity must be positive", ErrInvalidBasket, weight.ID)
		}
	}
	return nil
}

// ParseWad converts a decimal string into a wad-scaled integer. The value must
// be exactly representable at 18 decimals.
func ParseWad(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	rat, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errBadAmount, raw)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(wad))
	if !scaled.IsInt() {
		return nil, fmt.Errorf("%w: %q has more than 18 decimals", errBadAmount, raw)
	}
	return new(big.Int).Set(scaled.Num()), nil
}
