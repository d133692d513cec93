package core

import "github.com/shopspring/decimal"

// MonthTotals is the compact per-month slice of a yearly overview, taken
// from the stored month summaries.
type MonthTotals struct {
	Month         int
	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal
	NetBalance    decimal.Decimal
}

// YearlyOverview aggregates every stored month of one calendar year.
type YearlyOverview struct {
	Year                   int
	Months                 []MonthTotals
	TotalIncome            decimal.Decimal
	TotalExpenses          decimal.Decimal
	AverageMonthlyIncome   decimal.Decimal
	AverageMonthlyExpenses decimal.Decimal
}

// CategoryTotal is an expense sum aggregated by category name.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}
