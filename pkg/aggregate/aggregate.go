// Package aggregate computes rolling period summaries over transactions and
// caches them for a short window so repeated dashboard reads do not hit the
// store on every request.
package aggregate

import (
	"github.com/shopspring/decimal"

	"savingsd/models"
	"savingsd/pkg/period"
)

// Summary is the aggregate for one period: positive deposit and withdrawal
// totals, their difference, and the number of transactions counted.
type Summary struct {
	Deposits    decimal.Decimal `json:"deposits"`
	Withdrawals decimal.Decimal `json:"withdrawals"`
	Net         decimal.Decimal `json:"net_amount"`
	Count       int             `json:"count"`
}

// Zero returns an empty summary. A period with no transactions aggregates to
// this, never to an error.
func Zero() Summary {
	return Summary{
		Deposits:    decimal.Zero,
		Withdrawals: decimal.Zero,
		Net:         decimal.Zero,
	}
}

// Summarize totals the transactions whose date falls inside r. Soft-deleted
// rows and unknown types are skipped.
func Summarize(txs []models.Transaction, r period.Range) Summary {
	sum := Zero()
	for _, tx := range txs {
		if tx.Deleted {
			continue
		}
		if !r.Contains(period.FromTime(tx.Date)) {
			continue
		}
		switch tx.Type {
		case models.TypeDeposit:
			sum.Deposits = sum.Deposits.Add(tx.Amount)
		case models.TypeWithdrawal:
			sum.Withdrawals = sum.Withdrawals.Add(tx.Amount)
		default:
			continue
		}
		sum.Count++
	}
	sum.Net = sum.Deposits.Sub(sum.Withdrawals)
	return sum
}
