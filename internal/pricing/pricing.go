package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"rfqScope/internal/model"
)

var (
	ErrPairNotFound       = errors.New("pair not found in pricing")
	ErrBelowMinimum       = errors.New("amount below minimum")
	ErrExceedsLiquidity   = errors.New("amount exceeds available liquidity")
	ErrFormulaUnsupported = errors.New("formula pricing is not supported")
)

// Level is one price step: the cumulative amount up to which price applies.
type Level [2]string

func (l Level) Amount() string { return l[0] }
func (l Level) Price() string  { return l[1] }

// Levels is either a list of steps or a pricing formula.
type Levels struct {
	Steps   []Level
	Formula string
}

func (l Levels) MarshalJSON() ([]byte, error) {
	if l.Formula != "" {
		return json.Marshal(l.Formula)
	}
	if l.Steps == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Steps)
}

func (l *Levels) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &l.Formula)
	}
	return json.Unmarshal(trimmed, &l.Steps)
}

// Pricing is a maker's quote for one base/quote pair.
type Pricing struct {
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
	Minimum    string `json:"minimum,omitempty"`
	Bid        Levels `json:"bid"`
	Ask        Levels `json:"ask"`
}

// Validate checks required fields and that every level is numeric.
func (p Pricing) Validate() error {
	if p.BaseToken == "" || p.QuoteToken == "" {
		return fmt.Errorf("missing base or quote token")
	}
	if p.Minimum != "" {
		if _, err := decimal.NewFromString(p.Minimum); err != nil {
			return fmt.Errorf("minimum %q: %w", p.Minimum, err)
		}
	}
	for _, levels := range []Levels{p.Bid, p.Ask} {
		for _, level := range levels.Steps {
			if _, err := decimal.NewFromString(level.Amount()); err != nil {
				return fmt.Errorf("level amount %q: %w", level.Amount(), err)
			}
			if _, err := decimal.NewFromString(level.Price()); err != nil {
				return fmt.Errorf("level price %q: %w", level.Price(), err)
			}
		}
	}
	return nil
}

// Matches reports whether the entry prices base against quote.
func (p Pricing) Matches(base, quote string) bool {
	return strings.EqualFold(p.BaseToken, base) && strings.EqualFold(p.QuoteToken, quote)
}

// CostForAmount prices amount of base against quote. Buys walk the ask
// levels and sells walk the bid levels. The result is rounded down.
func CostForAmount(side model.SwapSide, amount *big.Int, base, quote string, entries []Pricing) (*big.Int, error) {
	for _, entry := range entries {
		if !entry.Matches(base, quote) {
			continue
		}
		requested := decimal.NewFromBigInt(amount, 0)
		if entry.Minimum != "" {
			minimum, err := decimal.NewFromString(entry.Minimum)
			if err != nil {
				return nil, fmt.Errorf("minimum %q: %w", entry.Minimum, err)
			}
			if requested.LessThan(minimum) {
				return nil, fmt.Errorf("requested %s, minimum %s: %w", requested, minimum, ErrBelowMinimum)
			}
		}

		levels := entry.Bid
		if side == model.SideBuy {
			levels = entry.Ask
		}
		if levels.Formula != "" {
			return nil, ErrFormulaUnsupported
		}
		return costFromLevels(requested, levels.Steps)
	}
	return nil, fmt.Errorf("%s/%s: %w", quote, base, ErrPairNotFound)
}

func costFromLevels(amount decimal.Decimal, levels []Level) (*big.Int, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("no levels: %w", ErrExceedsLiquidity)
	}
	available, err := decimal.NewFromString(levels[len(levels)-1].Amount())
	if err != nil {
		return nil, fmt.Errorf("level amount: %w", err)
	}
	if amount.GreaterThan(available) {
		return nil, fmt.Errorf("requested %s, available %s: %w", amount, available, ErrExceedsLiquidity)
	}

	total := decimal.Zero
	previous := decimal.Zero
	for _, level := range levels {
		upTo, err := decimal.NewFromString(level.Amount())
		if err != nil {
			return nil, fmt.Errorf("level amount: %w", err)
		}
		price, err := decimal.NewFromString(level.Price())
		if err != nil {
			return nil, fmt.Errorf("level price: %w", err)
		}

		increment := amount.Sub(previous)
		if amount.GreaterThan(upTo) {
			increment = upTo.Sub(previous)
		}
		total = total.Add(increment.Mul(price))
		previous = upTo
		if amount.LessThan(previous) {
			break
		}
	}
	return total.Floor().BigInt(), nil
}
