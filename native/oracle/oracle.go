package oracle

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceDecimals is the fixed-point precision every USD value is normalised to
// before amounts of different tokens are compared or summed.
const PriceDecimals = 18

var (
	ErrNoPrice         = errors.New("oracle: no price for token")
	ErrInvalidPrice    = errors.New("oracle: price must be positive")
	ErrNotConfigured   = errors.New("oracle: converter not configured")
	ErrUnknownDecimals = errors.New("oracle: token decimals unavailable")
)

// PriceOracle resolves the USD price of one whole token, scaled to the
// returned number of decimals. The oracle's own aggregation logic is outside
// this module; the converter only consumes point-in-time quotes.
type PriceOracle interface {
	PriceOf(token common.Address) (price *big.Int, decimals uint8, err error)
}

// DecimalsSource reports the decimal precision a token's amounts use.
type DecimalsSource interface {
	Decimals(token common.Address) (uint8, error)
}

// ManualFeed is a settable in-process oracle. The daemon seeds it from
// configuration; tests drive it directly.
type ManualFeed struct {
	prices map[common.Address]*big.Int
}

// NewManualFeed constructs an empty feed. Prices are expected scaled to
// PriceDecimals.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{prices: make(map[common.Address]*big.Int)}
}

// SetPrice stores the USD price for one whole token.
func (f *ManualFeed) SetPrice(token common.Address, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	f.prices[token] = new(big.Int).Set(price)
	return nil
}

// PriceOf returns a defensive copy of the stored quote.
func (f *ManualFeed) PriceOf(token common.Address) (*big.Int, uint8, error) {
	price, ok := f.prices[token]
	if !ok {
		return nil, 0, ErrNoPrice
	}
	return new(big.Int).Set(price), PriceDecimals, nil
}

// Converter normalises (token, amount) pairs to 18-decimal USD values and
// converts USD requirements back into token amounts. All roundings bias
// against the borrower: USD proceeds round down, token amounts owed round up.
type Converter struct {
	oracle   PriceOracle
	decimals DecimalsSource
}

// NewConverter wires a converter to a price oracle and a token decimals
// source.
func NewConverter(o PriceOracle, d DecimalsSource) *Converter {
	return &Converter{oracle: o, decimals: d}
}

// USDValue converts amount of token to an 18-decimal USD value, rounding
// down. usd = amount * price / 10^tokenDecimals.
func (c *Converter) USDValue(token common.Address, amount *big.Int) (*big.Int, error) {
	if c == nil || c.oracle == nil || c.decimals == nil {
		return nil, ErrNotConfigured
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := c.normalisedPrice(token)
	if err != nil {
		return nil, err
	}
	dec, err := c.decimals.Decimals(token)
	if err != nil {
		return nil, ErrUnknownDecimals
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, pow10(dec)), nil
}

// TokenAmount converts an 18-decimal USD value into token units, rounding
// down. amount = usd * 10^tokenDecimals / price.
func (c *Converter) TokenAmount(token common.Address, usd *big.Int) (*big.Int, error) {
	return c.tokenAmount(token, usd, false)
}

// TokenAmountCeil converts an 18-decimal USD value into token units, rounding
// up. Used when sizing collateral so rounding never favours the borrower.
func (c *Converter) TokenAmountCeil(token common.Address, usd *big.Int) (*big.Int, error) {
	return c.tokenAmount(token, usd, true)
}

func (c *Converter) tokenAmount(token common.Address, usd *big.Int, ceil bool) (*big.Int, error) {
	if c == nil || c.oracle == nil || c.decimals == nil {
		return nil, ErrNotConfigured
	}
	if usd == nil || usd.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := c.normalisedPrice(token)
	if err != nil {
		return nil, err
	}
	dec, err := c.decimals.Decimals(token)
	if err != nil {
		return nil, ErrUnknownDecimals
	}
	numerator := new(big.Int).Mul(usd, pow10(dec))
	if ceil {
		numerator.Add(numerator, new(big.Int).Sub(price, big.NewInt(1)))
	}
	return numerator.Quo(numerator, price), nil
}

// normalisedPrice rescales the oracle quote to PriceDecimals.
func (c *Converter) normalisedPrice(token common.Address) (*big.Int, error) {
	price, quoteDecimals, err := c.oracle.PriceOf(token)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	switch {
	case quoteDecimals == PriceDecimals:
		return price, nil
	case quoteDecimals < PriceDecimals:
		return new(big.Int).Mul(price, pow10(PriceDecimals-quoteDecimals)), nil
	default:
		return new(big.Int).Quo(price, pow10(quoteDecimals-PriceDecimals)), nil
	}
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
