// Package decimalops implements fixed-point scaling for RAY (1e27) and WAD
// (1e18) values the way Aave-style reserves represent indices, thresholds and
// balances on-chain. All arithmetic is integer until the final USD conversion,
// per the precision requirement in spec.md §4.A.
package decimalops

import (
	"errors"
	"math"
	"math/big"
)

var (
	// Ray is Aave's 10^27 fixed-point scale.
	Ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	// Wad is the 10^18 fixed-point scale used for health factors.
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	maxUSDMagnitude = 1e9
)

// pow10 returns 10^n as a *big.Int, n >= 0.
func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ScaleTo18 converts a raw integer amount with `dec` decimals into an 18-decimal
// fixed-point integer, scaling up or down as needed.
func ScaleTo18(raw *big.Int, dec int) *big.Int {
	if dec == 18 {
		return new(big.Int).Set(raw)
	}
	if dec < 18 {
		return new(big.Int).Mul(raw, pow10(18-dec))
	}
	return new(big.Int).Div(raw, pow10(dec-18))
}

// ScaleFrom18 is the inverse of ScaleTo18: given an 18-decimal value, returns
// the raw integer amount at `dec` decimals.
func ScaleFrom18(v *big.Int, dec int) *big.Int {
	if dec == 18 {
		return new(big.Int).Set(v)
	}
	if dec < 18 {
		return new(big.Int).Div(v, pow10(18-dec))
	}
	return new(big.Int).Mul(v, pow10(dec-18))
}

// ApplyRay computes v*indexRay/RAY, the standard Aave accrual-index application.
func ApplyRay(v *big.Int, indexRay *big.Int) *big.Int {
	product := new(big.Int).Mul(v, indexRay)
	return product.Div(product, Ray)
}

// ValidationResult reports whether a computed USD value is trustworthy.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// USD converts a raw token amount and a raw price into a float64 USD value.
// raw/priceRaw are integers at `dec`/`priceDec` decimals respectively. This is
// the one place integer math gives way to floating point, and the result is
// validated before being handed back.
func USD(raw *big.Int, dec int, priceRaw *big.Int, priceDec int) (float64, ValidationResult) {
	if raw == nil || priceRaw == nil {
		return 0, ValidationResult{Valid: false, Reason: "nil input"}
	}
	amount := new(big.Float).SetInt(raw)
	amount.Quo(amount, new(big.Float).SetInt(pow10(dec)))

	price := new(big.Float).SetInt(priceRaw)
	price.Quo(price, new(big.Float).SetInt(pow10(priceDec)))

	usd, _ := new(big.Float).Mul(amount, price).Float64()
	return usd, Validate(usd)
}

// Validate rejects non-finite, negative, or suspiciously large USD values.
func Validate(v float64) ValidationResult {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ValidationResult{Valid: false, Reason: "non-finite"}
	}
	if v < 0 {
		return ValidationResult{Valid: false, Reason: "negative"}
	}
	if v > maxUSDMagnitude {
		return ValidationResult{Valid: false, Reason: "suspicious magnitude"}
	}
	return ValidationResult{Valid: true}
}

// ErrNonFinite is returned by callers that choose to surface Validate failures
// as errors rather than inspecting ValidationResult directly.
var ErrNonFinite = errors.New("decimalops: value failed validation")
