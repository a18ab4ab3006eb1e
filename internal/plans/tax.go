package plans

import "github.com/shopspring/decimal"

// GSTRate is the flat goods and services tax applied to every paid order.
var GSTRate = decimal.NewFromInt(18).Div(decimal.NewFromInt(100))

// GST returns the tax on a base amount in minor units, rounded half away from zero.
func GST(base int64) int64 {
	if base <= 0 {
		return 0
	}
	return decimal.NewFromInt(base).Mul(GSTRate).Round(0).IntPart()
}

// SplitGross splits a tax-inclusive total into base and tax. It is used for
// gateway-initiated charges where only the gross amount is known.
func SplitGross(total int64) (base, tax int64) {
	if total <= 0 {
		return 0, 0
	}
	base = decimal.NewFromInt(total).Div(decimal.NewFromInt(1).Add(GSTRate)).Round(0).IntPart()
	return base, total - base
}
