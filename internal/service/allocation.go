package service

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Payment amounts may exceed the remaining balance by at most one cent;
// custom split sums may drift from the order total by at most two cents.
// Observed operational values, intentionally not unified.
var (
	paymentTolerance     = decimal.New(1, -2) // 0.01
	customSplitTolerance = decimal.New(2, -2) // 0.02
)

// allocateEven divides total into n shares that sum to total exactly.
// Shares 0..n-2 are floor(total/n) at 2dp; the last share absorbs the
// residual. Used for equal splits, applied to the pre-tax amount and the
// tax component independently.
func allocateEven(total decimal.Decimal, n int) []decimal.Decimal {
	shares := make([]decimal.Decimal, n)
	lead := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	for i := 0; i < n-1; i++ {
		shares[i] = lead
	}
	shares[n-1] = total.Sub(lead.Mul(decimal.NewFromInt(int64(n - 1))))
	return shares
}

// allocateEvenRounded is allocateEven with half-up rounding on the leading
// shares; the last share still absorbs the residual so the sum stays exact.
// Used for the shared pool in by-items splits.
func allocateEvenRounded(total decimal.Decimal, n int) []decimal.Decimal {
	shares := make([]decimal.Decimal, n)
	lead := total.Div(decimal.NewFromInt(int64(n))).Round(2)
	for i := 0; i < n-1; i++ {
		shares[i] = lead
	}
	shares[n-1] = total.Sub(lead.Mul(decimal.NewFromInt(int64(n - 1))))
	return shares
}

// proportionalTax back-computes a split's tax share from the order-wide
// tax ratio: round(splitTotal * orderTax / orderTotal, 2dp).
func proportionalTax(splitTotal, orderTax, orderTotal decimal.Decimal) decimal.Decimal {
	if orderTotal.IsZero() {
		return decimal.Zero
	}
	return splitTotal.Mul(orderTax).Div(orderTotal).Round(2)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// --- pgtype.Numeric conversion ---

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
