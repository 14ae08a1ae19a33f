package ledger

import "github.com/shopspring/decimal"

var (
	loanFeeRate     = decimal.RequireFromString("0.05")
	loanPenaltyRate = decimal.RequireFromString("0.10")
)

// LoanFee возвращает комиссию за кредит: floor(amount * 5%).
func LoanFee(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(loanFeeRate).Floor().IntPart()
}

// DefaultPenalty возвращает сумму, списываемую при дефолте: amount + floor(amount * 10%).
func DefaultPenalty(amount int64) int64 {
	return amount + decimal.NewFromInt(amount).Mul(loanPenaltyRate).Floor().IntPart()
}
