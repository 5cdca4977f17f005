package billing

import (
	"github.com/shopspring/decimal"
)

var oneMillion = decimal.NewFromInt(1_000_000)

// Price is the USD cost of a single input and output token.
type Price struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// PerMillion builds a per-token Price from list prices quoted in USD per
// million tokens, e.g. PerMillion("0.15", "0.60"). It panics on malformed
// input and is meant for static price tables.
func PerMillion(input, output string) Price {
	return Price{
		Input:  decimal.RequireFromString(input).Div(oneMillion),
		Output: decimal.RequireFromString(output).Div(oneMillion),
	}
}

// Cost returns inputTokens*Input + outputTokens*Output.
func Cost(p Price, inputTokens, outputTokens int) decimal.Decimal {
	in := decimal.NewFromInt(int64(inputTokens)).Mul(p.Input)
	out := decimal.NewFromInt(int64(outputTokens)).Mul(p.Output)
	return in.Add(out)
}
